package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/smartbox-capture/media"
)

// Hub fans frames out to subscribers with isolated backpressure.
//
// Publish never blocks and never calls into consumer code: each subscriber
// drains its own bounded Buffer on its own goroutine, so a stalled consumer
// can only lose its own frames.
type Hub struct {
	cfg config

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	oneshot oneshotQueue

	published atomic.Uint64
	delivered map[string]*atomic.Uint64 // guarded by mu; counters themselves atomic
}

// Subscription is one consumer's attachment to the hub. The subscription's
// buffer is owned solely by that consumer; no two subscriptions ever share
// a buffer or a frame instance.
type Subscription struct {
	id  string
	buf *Buffer
}

// ID returns the consumer id the subscription was registered under.
func (s *Subscription) ID() string { return s.id }

// TryNext dequeues the oldest pending frame without blocking.
func (s *Subscription) TryNext() (*media.Frame, bool) { return s.buf.TryGet() }

// Next blocks until a frame arrives, the subscription is removed, or ctx ends.
func (s *Subscription) Next(ctx context.Context) (*media.Frame, error) {
	return s.buf.Get(ctx)
}

// Dropped returns how many frames this subscription lost to backpressure.
func (s *Subscription) Dropped() uint64 { return s.buf.Dropped() }

// New creates a hub. See WithCapacity and WithDropHook.
func New(opts ...Option) *Hub {
	cfg := config{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hub{
		cfg:       cfg,
		subs:      make(map[string]*Subscription),
		delivered: make(map[string]*atomic.Uint64),
	}
}

// Subscribe registers a consumer and returns its subscription.
func (h *Hub) Subscribe(consumerID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, exists := h.subs[consumerID]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &Subscription{id: consumerID, buf: NewBuffer(h.cfg.capacity)}
	h.subs[consumerID] = sub
	h.delivered[consumerID] = &atomic.Uint64{}
	return sub, nil
}

// Unsubscribe removes a consumer and closes its buffer, waking any blocked
// Next call with ErrClosed.
func (h *Hub) Unsubscribe(consumerID string) error {
	h.mu.Lock()
	sub, exists := h.subs[consumerID]
	if exists {
		delete(h.subs, consumerID)
	}
	h.mu.Unlock()

	if !exists {
		return ErrSubscriberNotFound
	}
	sub.buf.Close()
	return nil
}

// Publish delivers a frame to every active subscription and resolves any
// pending single-shot request. Each subscriber receives an independently
// owned copy; with exactly one subscriber and no single-shot waiters the
// frame is moved instead of copied.
//
// Publish is non-blocking regardless of consumer speed.
func (h *Hub) Publish(f *media.Frame) {
	h.published.Add(1)

	// Resolve single-shot waiters first so a snapshot request cannot lose
	// the race against its own timeout to a slow consumer.
	h.oneshot.resolve(f)

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		f.Release()
		return
	}

	var evictions []string

	if len(h.subs) == 1 {
		// Single-consumer fast path: transfer ownership, no copy.
		for id, sub := range h.subs {
			if sub.buf.Put(f) {
				evictions = append(evictions, id)
			}
			h.delivered[id].Add(1)
		}
	} else {
		for id, sub := range h.subs {
			if sub.buf.Put(f.Clone()) {
				evictions = append(evictions, id)
			}
			h.delivered[id].Add(1)
		}
		f.Release()
	}
	hook := h.cfg.dropHook
	h.mu.RUnlock()

	if hook != nil {
		for _, id := range evictions {
			hook(id)
		}
	}
}

// NextFrame resolves with a copy of the next published frame, or fails with
// ErrTimeout when ctx's deadline passes (ctx.Err() for plain cancellation).
// The implicit one-time subscription is removed either way; the request
// never affects regular subscribers.
func (h *Hub) NextFrame(ctx context.Context) (*media.Frame, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrClosed
	}
	h.mu.RUnlock()

	return h.oneshot.wait(ctx)
}

// Stats returns a snapshot of delivery metrics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := Stats{
		Published:   h.published.Load(),
		Subscribers: make(map[string]SubscriptionStats, len(h.subs)),
	}
	for id, sub := range h.subs {
		s := SubscriptionStats{
			Delivered: h.delivered[id].Load(),
			Dropped:   sub.buf.Dropped(),
		}
		out.Dropped += s.Dropped
		out.Subscribers[id] = s
	}
	return out
}

// Close removes all subscriptions and fails pending single-shot requests.
// Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.buf.Close()
	}
	h.oneshot.close()
}
