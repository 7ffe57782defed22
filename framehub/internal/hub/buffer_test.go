package hub

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/smartbox-capture/media"
)

func frameWithSeq(seq uint64) *media.Frame {
	return &media.Frame{Seq: seq, Data: []byte{byte(seq)}}
}

// TestDropOldestInvariant verifies the core backpressure policy: a buffer of
// capacity 3 fed frames 1..10 with no dequeues holds exactly {8,9,10} and
// counts 7 drops.
func TestDropOldestInvariant(t *testing.T) {
	buf := NewBuffer(3)

	for seq := uint64(1); seq <= 10; seq++ {
		buf.Put(frameWithSeq(seq))
	}

	if got := buf.Dropped(); got != 7 {
		t.Errorf("expected 7 dropped, got %d", got)
	}
	if got := buf.Len(); got != 3 {
		t.Fatalf("expected 3 queued, got %d", got)
	}

	for _, want := range []uint64{8, 9, 10} {
		f, ok := buf.TryGet()
		if !ok {
			t.Fatalf("expected frame %d, buffer empty", want)
		}
		if f.Seq != want {
			t.Errorf("expected seq %d, got %d", want, f.Seq)
		}
	}

	if _, ok := buf.TryGet(); ok {
		t.Error("buffer should be empty after draining")
	}
}

// TestOrderPreserved verifies frames dequeue in sequence order with no
// duplicates when nothing is dropped.
func TestOrderPreserved(t *testing.T) {
	buf := NewBuffer(16)

	for seq := uint64(1); seq <= 10; seq++ {
		buf.Put(frameWithSeq(seq))
	}

	var last uint64
	for {
		f, ok := buf.TryGet()
		if !ok {
			break
		}
		if f.Seq <= last {
			t.Errorf("out-of-order or duplicate frame: %d after %d", f.Seq, last)
		}
		last = f.Seq
	}
	if last != 10 {
		t.Errorf("expected last seq 10, got %d", last)
	}
	if buf.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", buf.Dropped())
	}
}

// TestGetBlocksUntilPut verifies the blocking read path.
func TestGetBlocksUntilPut(t *testing.T) {
	buf := NewBuffer(3)

	got := make(chan *media.Frame, 1)
	go func() {
		f, err := buf.Get(context.Background())
		if err != nil {
			t.Errorf("Get failed: %v", err)
		}
		got <- f
	}()

	// Give the reader time to block.
	time.Sleep(20 * time.Millisecond)
	buf.Put(frameWithSeq(42))

	select {
	case f := <-got:
		if f.Seq != 42 {
			t.Errorf("expected seq 42, got %d", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Put")
	}
}

// TestGetHonorsContext verifies a blocked Get returns when its context ends.
func TestGetHonorsContext(t *testing.T) {
	buf := NewBuffer(3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := buf.Get(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error from cancelled Get")
	}
	if elapsed > time.Second {
		t.Errorf("Get took %v, expected ~50ms", elapsed)
	}
}

// TestCloseWakesReaders verifies Close unblocks Get with ErrClosed and
// releases queued frames.
func TestCloseWakesReaders(t *testing.T) {
	buf := NewBuffer(3)

	errCh := make(chan error, 1)
	go func() {
		_, err := buf.Get(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Close()
	buf.Close() // idempotent

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Close")
	}

	// Put after Close is a silent no-op.
	buf.Put(frameWithSeq(1))
	if buf.Len() != 0 {
		t.Error("Put enqueued to a closed buffer")
	}
}
