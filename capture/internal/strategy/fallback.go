package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/e7canasta/smartbox-capture/media"
)

// Stages at which a variant can fail.
const (
	StageInitialize = "initialize"
	StageStart      = "start"
)

// FailedVariant records why one variant was rejected by the fallback chain.
type FailedVariant struct {
	Name  string
	Stage string
	Err   error
}

// AllFailedError reports that every variant in the chain failed, with the
// ordered per-variant reasons. The caller decides whether to surface or
// retry; nothing inside the chain retries on its own.
type AllFailedError struct {
	Variants []FailedVariant
}

func (e *AllFailedError) Error() string {
	var b strings.Builder
	b.WriteString("strategy: all capture variants failed:")
	for _, v := range e.Variants {
		fmt.Fprintf(&b, " [%s/%s: %v]", v.Name, v.Stage, v.Err)
	}
	return b.String()
}

// Acquire walks variants in priority order and returns the first one that
// both initializes and starts. A variant that fails either stage is stopped
// and closed before the next is tried, so at most one strategy ever holds
// the device.
func Acquire(ctx context.Context, src media.Source, format media.Format, variants []Strategy, emit EmitFunc) (Strategy, error) {
	var failed []FailedVariant

	for _, s := range variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.Initialize(src, format); err != nil {
			slog.Warn("strategy: initialize failed, trying next variant",
				"variant", s.Name(),
				"device", src.ID,
				"error", err,
			)
			s.Close()
			failed = append(failed, FailedVariant{Name: s.Name(), Stage: StageInitialize, Err: err})
			continue
		}

		if err := s.Start(ctx, emit); err != nil {
			slog.Warn("strategy: start failed, trying next variant",
				"variant", s.Name(),
				"device", src.ID,
				"error", err,
			)
			s.Stop()
			s.Close()
			failed = append(failed, FailedVariant{Name: s.Name(), Stage: StageStart, Err: err})
			continue
		}

		slog.Info("strategy: capture variant acquired",
			"variant", s.Name(),
			"device", src.ID,
			"format", format.String(),
			"rejected", len(failed),
		)
		return s, nil
	}

	return nil, &AllFailedError{Variants: failed}
}
