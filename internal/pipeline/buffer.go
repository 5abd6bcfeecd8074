// Package pipeline implements the bounded in-memory pipe between row
// production and the bulk-load statement.
package pipeline

import (
	"errors"
	"io"
	"sync"
)

// DefaultBufferSize is the pipe capacity used when none is configured.
const DefaultBufferSize = 512 * 1024

// ErrBufferClosed is returned by Write after the write side was closed.
var ErrBufferClosed = errors.New("pipeline: write to closed buffer")

// BufferMetrics describes the traffic through one BoundedBuffer.
type BufferMetrics struct {
	Capacity     int
	BytesWritten int64
	BytesRead    int64
	// HighWater is the largest number of bytes buffered at once
	HighWater int
	// WriterBlocks counts how often a writer waited for free space
	WriterBlocks int64
	// ReaderBlocks counts how often a reader waited for data
	ReaderBlocks int64
}

// BoundedBuffer is a fixed-capacity byte ring shared by exactly one writer
// and one reader running on different goroutines. Write blocks while the
// ring is full and Read blocks while it is empty; each side wakes the other
// when it changes the fill level.
//
// Close ends the write side: the reader drains what is left and then sees
// io.EOF. CloseWithError ends both sides: pending and future calls on
// either side return the error immediately, discarding buffered bytes.
type BoundedBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	data  []byte
	start int // read position
	size  int // bytes buffered

	writeClosed bool
	err         error // first error passed to CloseWithError

	metrics BufferMetrics
}

// NewBoundedBuffer creates a buffer holding at most capacity bytes.
// A non-positive capacity selects DefaultBufferSize.
func NewBoundedBuffer(capacity int) *BoundedBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	b := &BoundedBuffer{data: make([]byte, capacity)}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	b.metrics.Capacity = capacity
	return b
}

// Write copies p into the ring, blocking for free space as needed. A write
// larger than the capacity is split across several fills.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(p) {
		if b.err != nil {
			return written, b.err
		}
		if b.writeClosed {
			return written, ErrBufferClosed
		}

		free := len(b.data) - b.size
		if free == 0 {
			b.metrics.WriterBlocks++
			b.notFull.Wait()
			continue
		}

		end := (b.start + b.size) % len(b.data)
		chunk := free
		if end+chunk > len(b.data) {
			chunk = len(b.data) - end
		}
		if remaining := len(p) - written; chunk > remaining {
			chunk = remaining
		}

		copy(b.data[end:end+chunk], p[written:written+chunk])
		b.size += chunk
		written += chunk
		b.metrics.BytesWritten += int64(chunk)
		if b.size > b.metrics.HighWater {
			b.metrics.HighWater = b.size
		}
		b.notEmpty.Signal()
	}

	return written, nil
}

// Read copies buffered bytes into p, blocking until data is available, the
// write side is closed (io.EOF once drained), or the buffer fails.
func (b *BoundedBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if b.writeClosed {
			return 0, io.EOF
		}
		b.metrics.ReaderBlocks++
		b.notEmpty.Wait()
	}
	if b.err != nil {
		return 0, b.err
	}

	n := b.size
	if n > len(p) {
		n = len(p)
	}
	if tail := len(b.data) - b.start; n > tail {
		n = tail
	}

	copy(p, b.data[b.start:b.start+n])
	b.start = (b.start + n) % len(b.data)
	b.size -= n
	if b.size == 0 {
		b.start = 0
	}
	b.metrics.BytesRead += int64(n)
	b.notFull.Signal()

	return n, nil
}

// Close closes the write side. It is safe to call more than once.
func (b *BoundedBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writeClosed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	return nil
}

// CloseWithError fails both sides with err, waking any blocked caller. Only
// the first error is kept. A nil err is treated as io.ErrClosedPipe.
func (b *BoundedBuffer) CloseWithError(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err == nil {
		b.err = err
	}
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Err returns the error the buffer was closed with, if any.
func (b *BoundedBuffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Len returns the number of bytes currently buffered.
func (b *BoundedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the capacity of the buffer.
func (b *BoundedBuffer) Cap() int {
	return len(b.data)
}

// Metrics returns a snapshot of the buffer's traffic counters.
func (b *BoundedBuffer) Metrics() BufferMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}
