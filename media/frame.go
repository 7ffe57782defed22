package media

import (
	"sync"
	"time"
)

// Frame is a single video frame with metadata. See the package comment for
// the ownership contract.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the session.
	Seq uint64
	// Timestamp is when the frame was captured or decoded.
	Timestamp time.Time
	// Width and Height in pixels.
	Width  int
	Height int
	// Stride is the number of bytes per row. Zero for compressed formats.
	Stride int
	// Pixel is the layout of Data.
	Pixel PixelFormat
	// Data holds the frame bytes. Owned exclusively by the current holder.
	Data []byte
	// TraceID is a unique identifier for tracing a frame through the pipeline.
	TraceID string

	pooled bool
}

// Alloc returns a frame whose Data buffer comes from the arena pool.
// The buffer contents are undefined; the caller fills them.
func Alloc(pixel PixelFormat, width, height, stride, size int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Pixel:  pixel,
		Data:   getBuffer(size),
		pooled: true,
	}
}

// Clone returns an independently-owned copy of the frame. The copy's buffer
// comes from the arena pool; release it with Release when done.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = getBuffer(len(f.Data))
	copy(c.Data, f.Data)
	c.pooled = true
	return &c
}

// Release returns the frame's buffer to the arena pool. The frame must not
// be used afterwards. Safe to call more than once and on non-pooled frames.
func (f *Frame) Release() {
	if f == nil || !f.pooled || f.Data == nil {
		return
	}
	putBuffer(f.Data)
	f.Data = nil
	f.pooled = false
}

// Arena pool for frame buffers. A 1080p RGBA frame is ~8 MiB; recycling
// buffers keeps a 30 fps stream from churning the garbage collector.
var bufPool sync.Pool

// minPooled keeps tiny buffers (headers, test fixtures) out of the pool.
const minPooled = 4096

func getBuffer(n int) []byte {
	if v := bufPool.Get(); v != nil {
		b := v.([]byte)
		if cap(b) >= n {
			return b[:n]
		}
	}
	return make([]byte, n)
}

func putBuffer(b []byte) {
	if cap(b) < minPooled {
		return
	}
	bufPool.Put(b[:0])
}
