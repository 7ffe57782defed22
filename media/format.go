package media

import "fmt"

// PixelFormat identifies the pixel layout of a frame's Data.
type PixelFormat int

const (
	// FormatUnknown is the zero value; frames never carry it past enumeration.
	FormatUnknown PixelFormat = iota
	// FormatYUY2 is packed 4:2:2 YUV (Y0 U Y1 V), 2 bytes per pixel.
	FormatYUY2
	// FormatUYVY is packed 4:2:2 YUV (U Y0 V Y1), 2 bytes per pixel.
	FormatUYVY
	// FormatNV12 is planar Y followed by interleaved UV, 12 bits per pixel.
	FormatNV12
	// FormatI420 is fully planar Y, U, V, 12 bits per pixel.
	FormatI420
	// FormatRGB24 is packed R G B, 3 bytes per pixel.
	FormatRGB24
	// FormatRGBA is packed R G B A, 4 bytes per pixel. Canonical display format.
	FormatRGBA
	// FormatMJPEG is a JPEG-compressed frame.
	FormatMJPEG
)

// String returns the conventional FOURCC-style name of the format.
func (p PixelFormat) String() string {
	switch p {
	case FormatYUY2:
		return "YUY2"
	case FormatUYVY:
		return "UYVY"
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	case FormatRGB24:
		return "RGB24"
	case FormatRGBA:
		return "RGBA"
	case FormatMJPEG:
		return "MJPEG"
	default:
		return "unknown"
	}
}

// IsPackedYUV reports whether the format is a packed YUV layout.
func (p PixelFormat) IsPackedYUV() bool {
	return p == FormatYUY2 || p == FormatUYVY
}

// IsPlanarYUV reports whether the format is a planar YUV layout.
func (p PixelFormat) IsPlanarYUV() bool {
	return p == FormatNV12 || p == FormatI420
}

// IsCompressed reports whether the format carries compressed data.
func (p PixelFormat) IsCompressed() bool {
	return p == FormatMJPEG
}

// HardwareNative reports whether the format is one cameras typically emit
// without conversion. Hardware-native formats rank highest in negotiation.
func (p PixelFormat) HardwareNative() bool {
	return p.IsPackedYUV() || p.IsPlanarYUV()
}

// Format is a concrete pixel layout, resolution and frame rate a source can
// be configured to emit. Immutable value type.
type Format struct {
	Pixel          PixelFormat
	Width          int
	Height         int
	FPSNumerator   int
	FPSDenominator int
}

// FPS returns the declared frame rate as a float. A zero denominator yields 0.
func (f Format) FPS() float64 {
	if f.FPSDenominator == 0 {
		return 0
	}
	return float64(f.FPSNumerator) / float64(f.FPSDenominator)
}

// Pixels returns the resolution area in pixels.
func (f Format) Pixels() int {
	return f.Width * f.Height
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d@%.3g", f.Pixel, f.Width, f.Height, f.FPS())
}
