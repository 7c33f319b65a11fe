package video

import (
	"context"
	"io"
	"sync"

	"github.com/visus-project/visus/internal/models"
)

// MinBufferCapacity is the floor for the frame buffer; the effective
// capacity is max(MinBufferCapacity, 2*workers).
const MinBufferCapacity = 8

// BufferCapacity returns the frame count the buffer holds for a worker
// pool of the given size.
func BufferCapacity(workers int) int {
	c := 2 * workers
	if c < MinBufferCapacity {
		c = MinBufferCapacity
	}
	return c
}

// FrameBuffer is the bounded FIFO between the decode loop and the
// analysis workers. Push blocks while the buffer is at capacity or at
// its byte ceiling, which back-pressures the decoder instead of letting
// a slow analysis stage accumulate raw frames. Pop blocks until a frame
// arrives or the producer closes the buffer.
type FrameBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	frames   []*models.Frame
	capacity int
	maxBytes int
	bytes    int

	closed bool
	err    error
}

// NewFrameBuffer creates a buffer holding up to capacity frames and
// capacity*maxFrameBytes pixel bytes.
func NewFrameBuffer(capacity, maxFrameBytes int) *FrameBuffer {
	if capacity < 1 {
		capacity = MinBufferCapacity
	}
	b := &FrameBuffer{
		capacity: capacity,
		maxBytes: capacity * maxFrameBytes,
	}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Push appends a frame, blocking while the buffer is full. It fails
// when ctx is cancelled, the buffer was closed, or the single frame
// alone exceeds the byte ceiling.
func (b *FrameBuffer) Push(ctx context.Context, f *models.Frame) error {
	size := f.SizeBytes()
	if b.maxBytes > 0 && size > b.maxBytes {
		return models.Errorf(models.KindResourceExhausted,
			"frame of %d bytes exceeds buffer ceiling of %d bytes", size, b.maxBytes)
	}

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && ctx.Err() == nil && b.full(size) {
		b.notFull.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.closed {
		return models.NewError(models.KindInternal, "push to closed frame buffer")
	}

	b.frames = append(b.frames, f)
	b.bytes += size
	b.notEmpty.Signal()
	return nil
}

// full is called under b.mu.
func (b *FrameBuffer) full(incoming int) bool {
	if len(b.frames) >= b.capacity {
		return true
	}
	return b.maxBytes > 0 && len(b.frames) > 0 && b.bytes+incoming > b.maxBytes
}

// Pop removes the oldest frame, blocking until one is available. After
// Close it drains the remaining frames, then returns io.EOF (or the
// error passed to CloseWithError).
func (b *FrameBuffer) Pop(ctx context.Context) (*models.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.frames) == 0 && !b.closed && ctx.Err() == nil {
		b.notEmpty.Wait()
	}
	if len(b.frames) > 0 {
		f := b.frames[0]
		b.frames[0] = nil
		b.frames = b.frames[1:]
		b.bytes -= f.SizeBytes()
		b.notFull.Signal()
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	return nil, io.EOF
}

// Len returns the buffered frame count.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Close marks the end of the stream. Buffered frames remain poppable.
func (b *FrameBuffer) Close() {
	b.CloseWithError(nil)
}

// CloseWithError closes the buffer and makes Pop return err once
// drained. A nil err behaves like Close.
func (b *FrameBuffer) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
}
