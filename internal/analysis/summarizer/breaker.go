package summarizer

import (
	"context"
	"errors"
	"log/slog"

	"stockwatch/internal/analysis/metrics"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/circuit"
)

type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Guarded fails fast while the provider keeps failing.
type Guarded struct {
	next    Summarizer
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewGuarded(next Summarizer, breaker *circuit.Breaker, logger *slog.Logger, m *metrics.Metrics) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger, metrics: m}
}

func (g *Guarded) Summarize(ctx context.Context, prompt string) (string, error) {
	if !g.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeTransientIO, "summarization temporarily unavailable")
	}

	text, err := g.next.Summarize(ctx, prompt)
	if err != nil {
		// a caller that gave up says nothing about the provider
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.metrics.SetBreakerOpen(true)
			g.logger.WarnContext(ctx, "circuit breaker opened", "breaker", g.breaker.Name(), "error", err)
		}
		return "", err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.metrics.SetBreakerOpen(false)
		g.logger.InfoContext(ctx, "circuit breaker closed", "breaker", g.breaker.Name())
	}
	return text, nil
}
