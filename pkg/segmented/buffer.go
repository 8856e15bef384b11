package segmented

import (
	"io"
	"sync"
	"time"
)

// DefaultBufferSize is the default bound of a RingBuffer.
const DefaultBufferSize = 16 * 1024 * 1024

// RingBuffer is a bounded in-memory byte queue between one writer and one reader.
type RingBuffer struct {
	mu sync.Mutex

	data   []byte
	head   int
	length int
	size   int

	closed  bool
	written bool

	readable chan struct{}
	writable chan struct{}
	done     chan struct{}
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return &RingBuffer{
		data:     make([]byte, size),
		size:     size,
		readable: make(chan struct{}),
		writable: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// broadcast wakes everyone waiting on ch, must be called with lock held.
func broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

func (b *RingBuffer) free() int {
	return b.size - b.length
}

func (b *RingBuffer) put(p []byte) {
	capacity := len(b.data)
	tail := (b.head + b.length) % capacity
	n := copy(b.data[tail:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.length += len(p)
}

func (b *RingBuffer) take(p []byte) int {
	n := len(p)
	if n > b.length {
		n = b.length
	}

	capacity := len(b.data)
	m := copy(p[:n], b.data[b.head:])
	if m < n {
		copy(p[m:n], b.data)
	}

	b.head = (b.head + n) % capacity
	b.length -= n
	if b.length == 0 {
		b.head = 0
	}
	return n
}

// Write appends p, blocking while the buffer is full. Once the buffer is closed,
// the remaining bytes are dropped and io.ErrClosedPipe is returned.
func (b *RingBuffer) Write(p []byte) (int, error) {
	total := 0

	b.mu.Lock()
	defer b.mu.Unlock()

	for total < len(p) {
		for !b.closed && b.free() <= 0 {
			ch := b.writable
			b.mu.Unlock()
			<-ch
			b.mu.Lock()
		}

		if b.closed {
			return total, io.ErrClosedPipe
		}

		n := len(p) - total
		if free := b.free(); n > free {
			n = free
		}

		b.put(p[total : total+n])
		total += n
		b.written = true
		broadcast(&b.readable)
	}

	return total, nil
}

// Read copies up to len(p) bytes. While the buffer is empty it waits up to
// timeout for data, a zero timeout waits forever. It returns io.EOF only once
// the buffer is both empty and closed.
func (b *RingBuffer) Read(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.length == 0 {
		if b.closed {
			return 0, io.EOF
		}

		ch := b.readable
		b.mu.Unlock()

		select {
		case <-ch:
			b.mu.Lock()
		case <-deadline:
			b.mu.Lock()
			if b.length == 0 && !b.closed {
				return 0, ErrReadTimeout
			}
		}
	}

	n := b.take(p)
	broadcast(&b.writable)
	return n, nil
}

// Resize changes the bound of the buffer, buffered bytes are kept.
func (b *RingBuffer) Resize(size int) {
	if size <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := size
	if b.length > capacity {
		capacity = b.length
	}

	length := b.length
	data := make([]byte, capacity)
	b.take(data[:length])

	b.data = data
	b.head = 0
	b.length = length
	b.size = size

	broadcast(&b.writable)
}

// Close is idempotent, waiting readers and writers are woken up.
func (b *RingBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	close(b.done)
	broadcast(&b.readable)
	broadcast(&b.writable)
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

func (b *RingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *RingBuffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free()
}

func (b *RingBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// WrittenOnce reports whether any bytes were ever written.
func (b *RingBuffer) WrittenOnce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Done is closed when the buffer gets closed.
func (b *RingBuffer) Done() <-chan struct{} {
	return b.done
}
