package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/e7canasta/smartbox-capture/media"
)

// oneshotQueue holds pending single-shot capture requests. Each request is
// a one-time subscription: it resolves with a copy of the next published
// frame and is removed immediately after, whether it resolved or timed out.
type oneshotQueue struct {
	mu      sync.Mutex
	waiters []chan *media.Frame
	closed  bool
}

// wait blocks until the next frame is published or ctx ends.
func (q *oneshotQueue) wait(ctx context.Context) (*media.Frame, error) {
	ch := make(chan *media.Frame, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		if !q.remove(ch) {
			// resolve or close already claimed this channel, so a send
			// or close is guaranteed. Take the frame instead of leaking
			// it in the abandoned buffer.
			if f, ok := <-ch; ok && f != nil {
				return f, nil
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// resolve hands a copy of the frame to every pending waiter and clears the
// queue. Non-blocking: waiter channels are buffered.
func (q *oneshotQueue) resolve(f *media.Frame) {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, ch := range waiters {
		ch <- f.Clone()
	}
}

// remove takes ch out of the pending list. Reports false when resolve or
// close already claimed it, in which case the waiter must drain the channel.
func (q *oneshotQueue) remove(ch chan *media.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (q *oneshotQueue) close() {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.closed = true
	q.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
