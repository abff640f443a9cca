// Package analysis produces on-demand summaries of at-risk inventory through
// an external text summarization provider.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockwatch/internal/alerts/rules"
	"stockwatch/internal/analysis/metrics"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/requestcontext"
)

const defaultTimeout = 20 * time.Second

// SnapshotReader loads the current inventory. Analysis always reads fresh.
type SnapshotReader interface {
	Snapshot(ctx context.Context, orgID id.OrganizationID) (*invmodels.Snapshot, error)
}

// Summarizer turns a prompt into text. An empty string means the provider
// had nothing to say.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Archive stores available reports. Failures never fail an analysis.
type Archive interface {
	Put(ctx context.Context, orgID id.OrganizationID, at time.Time, report string) (string, error)
}

type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

type Result struct {
	Status   Status
	Analysis string
	// AtRisk is the input the summary was produced from.
	AtRisk []rules.AtRiskItem
	// ArchiveKey is set when the report was archived.
	ArchiveKey string
}

type Service struct {
	reader         SnapshotReader
	summarizer     Summarizer
	archive        Archive
	rules          rules.Config
	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithRules(cfg rules.Config) Option {
	return func(s *Service) {
		s.rules = cfg
	}
}

// WithDefaultTimeout applies when the caller's context carries no deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

func WithArchive(a Archive) Option {
	return func(s *Service) {
		s.archive = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(reader SnapshotReader, summarizer Summarizer, opts ...Option) *Service {
	s := &Service{
		reader:         reader,
		summarizer:     summarizer,
		rules:          rules.DefaultConfig(),
		defaultTimeout: defaultTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("stockwatch/analysis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunAnalysis summarizes the at-risk items of orgID. With nothing at risk
// the provider is not called and the result is unavailable. Provider and
// read failures are transient_io errors; an expired deadline is a timeout.
func (s *Service) RunAnalysis(ctx context.Context, orgID id.OrganizationID) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaultTimeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("organization_id", orgID.String()),
	))
	defer span.End()
	start := time.Now()

	result, err := s.run(ctx, orgID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.metrics.ObserveRun(string(dErrors.CodeOf(err)), time.Since(start))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("analysis.status", string(result.Status)),
		attribute.Int("analysis.at_risk", len(result.AtRisk)),
	)
	s.metrics.ObserveRun(string(result.Status), time.Since(start))
	return result, nil
}

func (s *Service) run(ctx context.Context, orgID id.OrganizationID) (*Result, error) {
	snap, err := s.reader.Snapshot(ctx, orgID)
	if err != nil {
		return nil, classify(ctx, err, "failed to read inventory")
	}

	now := requestcontext.Now(ctx)
	atRisk := rules.AtRisk(snap.Items, now, s.rules)
	if len(atRisk) == 0 {
		s.logger.InfoContext(ctx, "analysis skipped, nothing at risk", "organization_id", orgID)
		return &Result{Status: StatusUnavailable}, nil
	}

	prompt, err := BuildPrompt(atRisk)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build prompt")
	}
	text, err := s.summarizer.Summarize(ctx, prompt)
	if err != nil {
		s.logger.ErrorContext(ctx, "summarization failed",
			"organization_id", orgID,
			"at_risk", len(atRisk),
			"error", err,
		)
		return nil, classify(ctx, err, "summarization failed")
	}
	if strings.TrimSpace(text) == "" {
		s.logger.WarnContext(ctx, "summarization returned no content", "organization_id", orgID)
		return &Result{Status: StatusUnavailable, AtRisk: atRisk}, nil
	}

	result := &Result{Status: StatusAvailable, Analysis: text, AtRisk: atRisk}
	result.ArchiveKey = s.archiveReport(ctx, orgID, now, text)
	return result, nil
}

func (s *Service) archiveReport(ctx context.Context, orgID id.OrganizationID, at time.Time, text string) string {
	if s.archive == nil {
		return ""
	}
	key, err := s.archive.Put(context.WithoutCancel(ctx), orgID, at, text)
	if err != nil {
		s.metrics.IncrementArchiveFailure()
		s.logger.WarnContext(ctx, "failed to archive analysis report",
			"organization_id", orgID,
			"error", err,
		)
		return ""
	}
	return key
}

// classify keeps coded errors, maps an expired deadline to timeout and
// anything else to transient_io.
func classify(ctx context.Context, err error, msg string) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "analysis timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeTransientIO, msg)
}
