// Package service owns the stateful half of the alert lifecycle: persisting
// reconciliation plans and dismissing alerts.
package service

import (
	"context"
	"errors"
	"log/slog"

	"stockwatch/internal/alerts/events"
	"stockwatch/internal/alerts/metrics"
	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/reconcile"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/sentinel"
	"stockwatch/pkg/requestcontext"
)

// Store persists alerts. CreateIfAbsent must be atomic per key: it inserts
// only when no open alert exists for the alert's (organization, item, kind).
type Store interface {
	ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	FindByID(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error)
	CreateIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	Execute(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error)
}

type EventPublisher interface {
	Emit(ctx context.Context, e events.Event) error
}

// ChangeNotifier is told that the open set of an organization changed after a
// dismissal. Implementations call load once they are serialized with the
// organization's monitoring passes, so the set they publish is never older
// than a pass that already notified.
type ChangeNotifier interface {
	AlertsChanged(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error))
}

// ChangeNotifierFunc adapts a function to ChangeNotifier.
type ChangeNotifierFunc func(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error))

func (f ChangeNotifierFunc) AlertsChanged(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error)) {
	f(ctx, orgID, load)
}

// Outcome reports what one ApplyFindings call did.
type Outcome struct {
	Created []*models.Alert
	// Skipped holds planned alerts another writer created first.
	Skipped []*models.Alert
	Stale   []*models.Alert
	// Open is the organization's open set after the writes.
	Open []*models.Alert
}

type Service struct {
	store      Store
	reconciler *reconcile.Reconciler
	publisher  EventPublisher
	notifier   ChangeNotifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithChangeNotifier(n ChangeNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithIDGenerator replaces the random alert ID source.
func WithIDGenerator(gen reconcile.IDGenerator) Option {
	return func(s *Service) {
		s.reconciler = reconcile.New(gen)
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		reconciler: reconcile.New(nil),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyFindings reconciles findings against the open alerts of orgID and
// persists the new ones. The clock comes from requestcontext.Now.
// A store failure aborts the call; alerts created before it stay created.
func (s *Service) ApplyFindings(ctx context.Context, orgID id.OrganizationID, findings []models.Finding) (*Outcome, error) {
	now := requestcontext.Now(ctx)

	existing, err := s.store.ListOpen(ctx, orgID)
	if err != nil {
		s.metrics.IncrementStoreError("list_open")
		return nil, storeError(err, "failed to list open alerts")
	}

	plan := s.reconciler.Reconcile(orgID, findings, existing, now)
	out := &Outcome{Stale: plan.Stale}

	for _, a := range plan.ToCreate {
		created, err := s.store.CreateIfAbsent(ctx, a)
		if err != nil {
			s.metrics.IncrementStoreError("create")
			return nil, storeError(err, "failed to create alert")
		}
		if !created {
			s.metrics.IncrementSkipped(string(a.Kind))
			out.Skipped = append(out.Skipped, a)
			continue
		}
		s.metrics.IncrementCreated(string(a.Kind))
		out.Created = append(out.Created, a)
		s.logger.InfoContext(ctx, "alert created",
			"organization_id", orgID,
			"alert_id", a.ID,
			"item_id", a.ItemID,
			"kind", a.Kind,
		)
		s.emit(ctx, events.AlertCreated(a, now))
	}

	if len(plan.ToCreate) == 0 {
		out.Open = existing
		return out, nil
	}
	open, err := s.store.ListOpen(ctx, orgID)
	if err != nil {
		s.metrics.IncrementStoreError("list_open")
		return nil, storeError(err, "failed to list open alerts")
	}
	out.Open = open
	return out, nil
}

// Dismiss moves an open alert to dismissed. Unknown alerts, alerts of another
// organization and already dismissed alerts are all invalid transitions.
func (s *Service) Dismiss(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error) {
	now := requestcontext.Now(ctx)

	alert, err := s.store.Execute(ctx, orgID, alertID,
		func(a *models.Alert) error { return a.CanDismiss() },
		func(a *models.Alert) { a.ApplyDismissal(now) },
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncrementDismissRejected()
			return nil, dErrors.New(dErrors.CodeInvalidStateTransition, "alert not found or not open")
		case dErrors.HasCode(err, dErrors.CodeInvalidStateTransition):
			s.metrics.IncrementDismissRejected()
			return nil, err
		default:
			s.metrics.IncrementStoreError("dismiss")
			return nil, storeError(err, "failed to dismiss alert")
		}
	}

	s.metrics.IncrementDismissed()
	s.logger.InfoContext(ctx, "alert dismissed",
		"organization_id", orgID,
		"alert_id", alert.ID,
		"item_id", alert.ItemID,
		"kind", alert.Kind,
	)
	s.emit(ctx, events.AlertDismissed(alert, now))
	s.notifyChanged(ctx, orgID)
	return alert, nil
}

// ListOpen returns the open alerts of orgID, oldest first.
func (s *Service) ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	alerts, err := s.store.ListOpen(ctx, orgID)
	if err != nil {
		s.metrics.IncrementStoreError("list_open")
		return nil, storeError(err, "failed to list open alerts")
	}
	return alerts, nil
}

// List returns every alert of orgID including dismissed ones.
func (s *Service) List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	alerts, err := s.store.List(ctx, orgID)
	if err != nil {
		s.metrics.IncrementStoreError("list")
		return nil, storeError(err, "failed to list alerts")
	}
	return alerts, nil
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to publish alert event",
			"type", e.Type,
			"alert_id", e.Alert.ID,
			"error", err,
		)
	}
}

// notifyChanged hands the notifier a loader for the post-dismissal open set.
// The dismissal already succeeded, so a failed read is only logged.
func (s *Service) notifyChanged(ctx context.Context, orgID id.OrganizationID) {
	if s.notifier == nil {
		return
	}
	s.notifier.AlertsChanged(ctx, orgID, func(ctx context.Context) ([]*models.Alert, error) {
		open, err := s.store.ListOpen(ctx, orgID)
		if err != nil {
			s.metrics.IncrementStoreError("list_open")
			s.logger.WarnContext(ctx, "failed to reload open alerts after dismissal",
				"organization_id", orgID,
				"error", err,
			)
			return nil, storeError(err, "failed to reload open alerts")
		}
		return open, nil
	})
}

func storeError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeTransientIO, msg)
}
