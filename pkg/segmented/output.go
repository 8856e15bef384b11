package segmented

import (
	"context"

	"github.com/m1k1o/go-segstream/internal/metrics"
)

// Output is the writer side of a pipeline.
type Output struct {
	buffer  *RingBuffer
	pause   *Pause
	metrics *metrics.Collector
}

// Write appends p to the ring buffer in order, blocking on backpressure.
// Writes after the reader went away return io.ErrClosedPipe.
func (o *Output) Write(p []byte) (int, error) {
	n, err := o.buffer.Write(p)
	o.metrics.BytesWritten(n)
	return n, err
}

// Pause blocks the reader until Resume is called, returns true on change.
func (o *Output) Pause() bool {
	return o.pause.Pause()
}

// Resume unblocks the reader, returns true on change.
func (o *Output) Resume() bool {
	return o.pause.Resume()
}

func (o *Output) Paused() bool {
	return o.pause.Paused()
}

func (o *Output) WrittenOnce() bool {
	return o.buffer.WrittenOnce()
}

// Queue is the bounded fetch queue between a worker and the writer.
type Queue[S any] struct {
	ch chan S
}

// Put enqueues a segment, blocking while the queue is full.
func (q *Queue[S]) Put(ctx context.Context, segment S) error {
	select {
	case q.ch <- segment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
