package generation

import (
	"context"
	"log/slog"

	"github.com/kalambet/carewatch/internal/metrics"
)

// Fallback tries primary and, on any error, answers with secondary. With a
// TemplateGenerator as secondary it never fails.
type Fallback struct {
	primary   Generator
	secondary Generator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFallback wraps primary. A nil primary always uses secondary.
func NewFallback(primary, secondary Generator, m *metrics.Metrics) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		metrics:   m,
		logger:    slog.Default(),
	}
}

func (f *Fallback) Name() string {
	if f.primary == nil {
		return f.secondary.Name()
	}
	return f.primary.Name()
}

func (f *Fallback) Generate(ctx context.Context, cc CareContext) (Result, error) {
	if f.primary == nil {
		return f.secondary.Generate(ctx, cc)
	}
	res, err := f.primary.Generate(ctx, cc)
	if err == nil {
		return res, nil
	}
	f.logger.Warn("generation failed, using fallback",
		"generator", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", err,
	)
	f.metrics.GenerationFallback(f.primary.Name())
	return f.secondary.Generate(ctx, cc)
}
