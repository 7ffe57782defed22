package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/e7canasta/smartbox-capture/media"
)

// fakeStrategy scripts one variant's behavior for fallback tests.
type fakeStrategy struct {
	name     string
	initErr  error
	startErr error

	initialized bool
	started     bool
	stopped     bool
	closed      bool
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Initialize(media.Source, media.Format) error {
	f.initialized = true
	return f.initErr
}

func (f *fakeStrategy) Start(context.Context, EmitFunc) error {
	f.started = true
	return f.startErr
}

func (f *fakeStrategy) Stop()  { f.stopped = true }
func (f *fakeStrategy) Close() { f.closed = true }

func TestFallbackOrder(t *testing.T) {
	s1 := &fakeStrategy{name: "push", initErr: errors.New("driver rejected format")}
	s2 := &fakeStrategy{name: "poll", startErr: errors.New("device busy")}
	s3 := &fakeStrategy{name: "bridge"}

	got, err := Acquire(context.Background(), media.Source{ID: "cam0"}, media.Format{}, []Strategy{s1, s2, s3}, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != s3 {
		t.Fatalf("Acquire returned %s, want bridge", got.Name())
	}

	if !s1.closed {
		t.Error("failed variant 1 was not disposed")
	}
	if !s2.stopped || !s2.closed {
		t.Error("failed variant 2 was not stopped and disposed")
	}
	if s3.stopped || s3.closed {
		t.Error("winning variant must stay alive")
	}
}

func TestFallbackAllFail(t *testing.T) {
	s1 := &fakeStrategy{name: "push", initErr: errors.New("no such device")}
	s2 := &fakeStrategy{name: "poll", initErr: errors.New("no such device")}

	_, err := Acquire(context.Background(), media.Source{ID: "cam0"}, media.Format{}, []Strategy{s1, s2}, nil)

	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllFailedError, got %v", err)
	}
	if len(all.Variants) != 2 {
		t.Fatalf("expected 2 failure reasons, got %d", len(all.Variants))
	}
	if all.Variants[0].Name != "push" || all.Variants[0].Stage != StageInitialize {
		t.Errorf("reason 0 = %+v, want push/initialize", all.Variants[0])
	}
	if all.Variants[1].Name != "poll" {
		t.Errorf("reason 1 = %+v, want poll", all.Variants[1])
	}
	if !s1.closed || !s2.closed {
		t.Error("every failed variant must be disposed")
	}
}

func TestFallbackStartFailureStage(t *testing.T) {
	s := &fakeStrategy{name: "push", startErr: errors.New("stream refused")}

	_, err := Acquire(context.Background(), media.Source{}, media.Format{}, []Strategy{s}, nil)

	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllFailedError, got %v", err)
	}
	if all.Variants[0].Stage != StageStart {
		t.Errorf("stage = %s, want start", all.Variants[0].Stage)
	}
}

func TestFallbackCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &fakeStrategy{name: "push"}
	_, err := Acquire(ctx, media.Source{}, media.Format{}, []Strategy{s}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.initialized {
		t.Error("no variant should run after cancellation")
	}
}
