package hub

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/smartbox-capture/media"
)

// TestNextFrameTimeout verifies a single-shot request with no frames ever
// published fails with ErrTimeout at approximately the deadline.
func TestNextFrameTimeout(t *testing.T) {
	h := New()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.NextFrame(ctx)
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 80*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("timed out after %v, expected ~100ms", elapsed)
	}
}

// TestNextFrameResolves verifies a pending request receives a copy of the
// next published frame and does not consume frames from subscribers.
func TestNextFrameResolves(t *testing.T) {
	h := New()
	defer h.Close()

	sub, err := h.Subscribe("preview")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	type result struct {
		seq uint64
		err error
	}
	got := make(chan result, 1)
	go func() {
		f, err := h.NextFrame(context.Background())
		if err != nil {
			got <- result{err: err}
			return
		}
		got <- result{seq: f.Seq}
		f.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish(frameWithSeq(7))

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("NextFrame failed: %v", r.err)
		}
		if r.seq != 7 {
			t.Errorf("NextFrame got seq %d, want 7", r.seq)
		}
	case <-time.After(time.Second):
		t.Fatal("NextFrame never resolved")
	}

	// The subscriber still got its own copy.
	f, ok := sub.TryNext()
	if !ok {
		t.Fatal("subscriber lost its frame to the single-shot request")
	}
	if f.Seq != 7 {
		t.Errorf("subscriber got seq %d, want 7", f.Seq)
	}
	f.Release()
}

// TestNextFrameOneTime verifies the implicit subscription is removed after
// resolving: one request, one frame.
func TestNextFrameOneTime(t *testing.T) {
	h := New()
	defer h.Close()

	got := make(chan uint64, 2)
	go func() {
		f, err := h.NextFrame(context.Background())
		if err != nil {
			return
		}
		got <- f.Seq
		f.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish(frameWithSeq(1))
	h.Publish(frameWithSeq(2))

	select {
	case seq := <-got:
		if seq != 1 {
			t.Errorf("got seq %d, want 1", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}

	select {
	case seq := <-got:
		t.Errorf("request resolved twice, second seq %d", seq)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestOneshotResolveClaimWins verifies the handoff when a publish races a
// timeout: once resolve has claimed a waiter channel, remove reports the
// loss and the delivered clone is there for the waiter to take, never
// stranded in the abandoned buffer.
func TestOneshotResolveClaimWins(t *testing.T) {
	var q oneshotQueue
	ch := make(chan *media.Frame, 1)
	q.waiters = append(q.waiters, ch)

	orig := frameWithSeq(7)
	q.resolve(orig)
	orig.Release()

	if q.remove(ch) {
		t.Fatal("remove found a waiter that resolve already claimed")
	}
	f := <-ch
	if f.Seq != 7 {
		t.Errorf("claimed frame seq = %d, want 7", f.Seq)
	}
	f.Release()
}

// TestNextFrameCancelled verifies plain cancellation reports ctx.Err, not
// ErrTimeout.
func TestNextFrameCancelled(t *testing.T) {
	h := New()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.NextFrame(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("NextFrame did not observe cancellation")
	}
}
