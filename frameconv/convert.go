// Package frameconv normalizes captured frames to the canonical RGBA layout.
//
// The capture strategies hand over frames in whatever pixel format the
// device negotiated. Downstream consumers only ever see RGBA, so conversion
// happens exactly once, on the delivery path, before fan-out.
package frameconv

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	mdframe "github.com/pion/mediadevices/pkg/frame"

	"github.com/e7canasta/smartbox-capture/media"
)

// Converter turns frames of any supported pixel format into RGBA frames.
// Decoders are cached per format; a Converter is safe for use from a single
// delivery goroutine.
type Converter struct {
	mu       sync.Mutex
	decoders map[media.PixelFormat]mdframe.Decoder
}

// New creates a Converter.
func New() *Converter {
	return &Converter{decoders: make(map[media.PixelFormat]mdframe.Decoder)}
}

// Normalize returns an RGBA frame carrying the same pixels, sequence number,
// timestamp and trace id as f.
//
// RGBA input is returned unchanged with no copy. For every other format the
// converter takes ownership of f, releases it, and returns a fresh frame.
func (c *Converter) Normalize(f *media.Frame) (*media.Frame, error) {
	switch f.Pixel {
	case media.FormatRGBA:
		return f, nil
	case media.FormatRGB24:
		return c.fromRGB24(f)
	case media.FormatNV12:
		return c.fromNV12(f)
	case media.FormatYUY2, media.FormatUYVY, media.FormatI420:
		return c.fromYUV(f)
	case media.FormatMJPEG:
		return c.fromMJPEG(f)
	default:
		return nil, fmt.Errorf("frameconv: unsupported pixel format %s", f.Pixel)
	}
}

// newRGBA allocates the output frame and copies the metadata over.
func newRGBA(src *media.Frame) *media.Frame {
	out := media.Alloc(media.FormatRGBA, src.Width, src.Height, src.Width*4, src.Width*src.Height*4)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	out.TraceID = src.TraceID
	return out
}

func (c *Converter) fromRGB24(f *media.Frame) (*media.Frame, error) {
	if len(f.Data) < f.Stride*f.Height {
		return nil, fmt.Errorf("frameconv: short RGB24 frame: %d bytes for %dx%d stride %d",
			len(f.Data), f.Width, f.Height, f.Stride)
	}
	out := newRGBA(f)
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.Stride:]
		dst := out.Data[y*out.Stride:]
		for x := 0; x < f.Width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xFF
		}
	}
	f.Release()
	return out, nil
}

// fromNV12 converts the semi-planar 4:2:0 layout: a full-resolution Y plane
// followed by an interleaved CbCr plane at half resolution.
func (c *Converter) fromNV12(f *media.Frame) (*media.Frame, error) {
	ySize := f.Width * f.Height
	need := ySize + ySize/2
	if len(f.Data) < need {
		return nil, fmt.Errorf("frameconv: short NV12 frame: %d bytes, need %d", len(f.Data), need)
	}
	yPlane := f.Data[:ySize]
	cPlane := f.Data[ySize:]

	out := newRGBA(f)
	for y := 0; y < f.Height; y++ {
		cRow := cPlane[(y/2)*f.Width:]
		dst := out.Data[y*out.Stride:]
		for x := 0; x < f.Width; x++ {
			ci := (x / 2) * 2
			r, g, b := color.YCbCrToRGB(yPlane[y*f.Width+x], cRow[ci], cRow[ci+1])
			dst[x*4+0] = r
			dst[x*4+1] = g
			dst[x*4+2] = b
			dst[x*4+3] = 0xFF
		}
	}
	f.Release()
	return out, nil
}

func (c *Converter) fromYUV(f *media.Frame) (*media.Frame, error) {
	dec, err := c.decoder(f.Pixel)
	if err != nil {
		return nil, err
	}
	img, release, err := dec.Decode(f.Data, f.Width, f.Height)
	if err != nil {
		return nil, fmt.Errorf("frameconv: decode %s: %w", f.Pixel, err)
	}
	out := rasterize(f, img)
	if release != nil {
		release()
	}
	f.Release()
	return out, nil
}

func (c *Converter) fromMJPEG(f *media.Frame) (*media.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("frameconv: decode MJPEG: %w", err)
	}
	out := rasterize(f, img)
	f.Release()
	return out, nil
}

// rasterize draws a decoded image into a fresh RGBA frame. draw.Draw carries
// the YCbCr conversion for us.
func rasterize(src *media.Frame, img image.Image) *media.Frame {
	out := newRGBA(src)
	dst := &image.RGBA{
		Pix:    out.Data,
		Stride: out.Stride,
		Rect:   image.Rect(0, 0, src.Width, src.Height),
	}
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	return out
}

func (c *Converter) decoder(pf media.PixelFormat) (mdframe.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dec, ok := c.decoders[pf]; ok {
		return dec, nil
	}

	var mf mdframe.Format
	switch pf {
	case media.FormatYUY2:
		mf = mdframe.FormatYUY2
	case media.FormatUYVY:
		mf = mdframe.FormatUYVY
	case media.FormatI420:
		mf = mdframe.FormatI420
	default:
		return nil, fmt.Errorf("frameconv: no decoder for %s", pf)
	}
	dec, err := mdframe.NewDecoder(mf)
	if err != nil {
		return nil, fmt.Errorf("frameconv: new decoder %s: %w", pf, err)
	}
	c.decoders[pf] = dec
	return dec, nil
}
