// Package negotiate picks the best capture source and pixel format from an
// enumeration snapshot.
package negotiate

import (
	"errors"

	"github.com/e7canasta/smartbox-capture/media"
)

// ErrNoDevice reports that no enumerated source exposes any format. This is
// not retried automatically: there is nothing to wait for until a device is
// plugged in.
var ErrNoDevice = errors.New("negotiate: no usable capture source found")

// Selection is the negotiation result.
type Selection struct {
	Source media.Source
	Format media.Format
	Score  float64
}

// Format weights rank hardware-native YUV layouts above RGB, and both above
// compressed streams that cost a decode per frame.
const (
	weightPackedYUV  = 1.0
	weightPlanarYUV  = 0.9
	weightRGB        = 0.6
	weightCompressed = 0.3
	weightUnknown    = 0.1
)

// SelectBest scores every (source, format) pair and returns the maximum.
//
// Score is frameRate * formatWeight + resolutionBonus. Ties break
// deterministically: hardware-native pixel layout first, then larger
// resolution, then higher declared frame rate, then enumeration order.
func SelectBest(sources []media.Source) (Selection, error) {
	var (
		best  Selection
		found bool
	)
	for _, src := range sources {
		for _, f := range src.Formats {
			cand := Selection{Source: src, Format: f, Score: Score(f)}
			if !found || better(cand, best) {
				best = cand
				found = true
			}
		}
	}
	if !found {
		return Selection{}, ErrNoDevice
	}
	return best, nil
}

// Score computes the negotiation score for one format.
func Score(f media.Format) float64 {
	return f.FPS()*formatWeight(f.Pixel) + resolutionBonus(f)
}

// resolutionBonus rewards larger frames without letting resolution outvote
// frame rate: one megapixel is worth one point.
func resolutionBonus(f media.Format) float64 {
	return float64(f.Pixels()) / 1e6
}

func formatWeight(p media.PixelFormat) float64 {
	switch {
	case p.IsPackedYUV():
		return weightPackedYUV
	case p.IsPlanarYUV():
		return weightPlanarYUV
	case p == media.FormatRGB24, p == media.FormatRGBA:
		return weightRGB
	case p.IsCompressed():
		return weightCompressed
	default:
		return weightUnknown
	}
}

// better reports whether cand outranks best. Candidates are compared in
// enumeration order, so returning false on a full tie keeps the first one.
func better(cand, best Selection) bool {
	if cand.Score != best.Score {
		return cand.Score > best.Score
	}
	cn, bn := cand.Format.Pixel.HardwareNative(), best.Format.Pixel.HardwareNative()
	if cn != bn {
		return cn
	}
	if cp, bp := cand.Format.Pixels(), best.Format.Pixels(); cp != bp {
		return cp > bp
	}
	if cf, bf := cand.Format.FPS(), best.Format.FPS(); cf != bf {
		return cf > bf
	}
	return false
}
