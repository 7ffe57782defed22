package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/smartbox-capture/media"
)

// Buffer is a bounded frame queue with a drop-oldest policy.
//
// Put never blocks: when the buffer is full the oldest queued frame is
// evicted (and released back to the arena) to make room for the new one,
// so the most recent frame is always preserved. This favors freshness over
// completeness, which is the right trade for live preview and telemetry.
// Consumers that need every frame must use a larger capacity or their own
// flow-controlled sink.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames []*media.Frame // ring storage
	head   int            // index of oldest frame
	count  int
	closed bool

	dropped atomic.Uint64
}

// NewBuffer creates a buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{frames: make([]*media.Frame, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Put enqueues a frame, evicting the oldest if the buffer is full.
// Returns true if an eviction happened. O(1), never waits.
func (b *Buffer) Put(f *media.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		f.Release()
		return false
	}

	evicted := false
	if b.count == len(b.frames) {
		old := b.frames[b.head]
		b.frames[b.head] = nil
		b.head = (b.head + 1) % len(b.frames)
		b.count--
		old.Release()
		b.dropped.Add(1)
		evicted = true
	}

	tail := (b.head + b.count) % len(b.frames)
	b.frames[tail] = f
	b.count++
	b.cond.Signal()
	return evicted
}

// TryGet dequeues the oldest frame without blocking.
func (b *Buffer) TryGet() (*media.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeLocked()
}

// Get blocks until a frame is available, the buffer is closed, or the
// context ends. Returns ErrClosed after Close.
func (b *Buffer) Get(ctx context.Context) (*media.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 {
		if b.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		stop()
	}

	f, _ := b.takeLocked()
	return f, nil
}

func (b *Buffer) takeLocked() (*media.Frame, bool) {
	if b.count == 0 {
		return nil, false
	}
	f := b.frames[b.head]
	b.frames[b.head] = nil
	b.head = (b.head + 1) % len(b.frames)
	b.count--
	return f, true
}

// Len returns the number of queued frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the lifetime eviction count.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Close releases all queued frames and wakes blocked readers. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for b.count > 0 {
		f, _ := b.takeLocked()
		f.Release()
	}
	b.cond.Broadcast()
}
