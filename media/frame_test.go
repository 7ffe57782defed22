package media

import (
	"testing"
	"time"
)

// TestCloneIndependence verifies a clone owns its own buffer.
func TestCloneIndependence(t *testing.T) {
	orig := &Frame{
		Seq:       7,
		Timestamp: time.Now(),
		Width:     2,
		Height:    2,
		Stride:    8,
		Pixel:     FormatRGBA,
		Data:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}

	clone := orig.Clone()

	if clone.Seq != orig.Seq || clone.Pixel != orig.Pixel {
		t.Errorf("clone metadata mismatch: %+v vs %+v", clone, orig)
	}
	if &clone.Data[0] == &orig.Data[0] {
		t.Fatal("clone shares backing buffer with original")
	}

	// Mutating the original must not show through the clone.
	orig.Data[0] = 0xFF
	if clone.Data[0] == 0xFF {
		t.Error("clone observed mutation of original")
	}
}

// TestReleaseIdempotent verifies Release is safe to call repeatedly.
func TestReleaseIdempotent(t *testing.T) {
	f := Alloc(FormatRGBA, 4, 4, 16, 64)
	f.Release()
	f.Release() // must not panic

	if f.Data != nil {
		t.Error("Data not cleared after Release")
	}

	// Non-pooled frames are a no-op.
	raw := &Frame{Data: []byte{1, 2, 3}}
	raw.Release()
	if raw.Data == nil {
		t.Error("Release cleared a non-pooled frame")
	}
}

// TestAllocSize verifies Alloc hands out a buffer of the requested length.
func TestAllocSize(t *testing.T) {
	f := Alloc(FormatNV12, 640, 480, 640, 640*480*3/2)
	defer f.Release()

	if len(f.Data) != 640*480*3/2 {
		t.Errorf("expected %d bytes, got %d", 640*480*3/2, len(f.Data))
	}
	if f.Pixel != FormatNV12 {
		t.Errorf("expected NV12, got %v", f.Pixel)
	}
}
