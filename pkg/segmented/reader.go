package segmented

import (
	"time"

	"github.com/pkg/errors"
)

// Reader is the consumer side of a pipeline.
type Reader struct {
	buffer  *RingBuffer
	pause   *Pause
	timeout time.Duration

	close     func()
	takeError func() error
}

// Read blocks until data is available. While output is paused by filtering,
// the read timeout does not apply and Read waits until output resumes or the
// pipeline gets closed.
func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.pause.Paused() && r.buffer.Len() == 0 {
			select {
			case <-r.pause.Resumed():
			case <-r.buffer.Done():
			}
		}

		// only waiting for the initial data is bounded
		timeout := r.timeout
		if r.buffer.WrittenOnce() {
			timeout = 0
		}

		n, err := r.buffer.Read(p, timeout)
		if errors.Is(err, ErrReadTimeout) && r.pause.Paused() {
			continue
		}

		return n, err
	}
}

// Close stops the pipeline, it is safe to call multiple times.
func (r *Reader) Close() error {
	r.close()
	return nil
}

// TakeError returns the error that ended the pipeline and clears it.
func (r *Reader) TakeError() error {
	return r.takeError()
}

// Buffer exposes the underlying ring buffer.
func (r *Reader) Buffer() *RingBuffer {
	return r.buffer
}
