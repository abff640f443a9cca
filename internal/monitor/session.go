package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockwatch/internal/alerts/rules"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/requestcontext"
)

type State int

const (
	StateIdle State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session watches one organization. Idle -> Subscribed -> Closed; Closed is
// terminal.
type Session struct {
	monitor *Monitor
	orgID   id.OrganizationID

	mu      sync.Mutex
	state   State
	sub     Subscription
	lock    *orgLock
	baseCtx context.Context
	done    chan struct{}
	stopped atomic.Bool

	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObs   uint64
}

func (s *Session) OrganizationID() id.OrganizationID {
	return s.orgID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start validates the rule configuration and subscribes to the inventory of
// the session's organization. On error the session stays idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return dErrors.New(dErrors.CodeInvalidStateTransition, "session can only start from idle, state is "+s.state.String())
	}
	if err := s.monitor.rules.Validate(); err != nil {
		return err
	}

	sub, err := s.monitor.source.Subscribe(ctx, s.orgID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return dErrors.Wrap(err, dErrors.CodeTransientIO, "failed to subscribe to inventory")
		}
		return err
	}
	lock, ok := s.monitor.register(s)
	if !ok {
		_ = sub.Close()
		return dErrors.New(dErrors.CodeInvalidStateTransition, "monitor is shut down")
	}

	s.sub = sub
	s.lock = lock
	s.baseCtx = context.WithoutCancel(ctx)
	s.done = make(chan struct{})
	s.state = StateSubscribed

	s.monitor.logger.InfoContext(ctx, "monitoring session started", "organization_id", s.orgID)
	go s.loop(sub.Snapshots())
	return nil
}

// Stop cancels the subscription and waits for an in-flight pass. Stopping an
// idle session closes it without ever subscribing.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidStateTransition, "session already closed")
	case StateIdle:
		s.state = StateClosed
		s.stopped.Store(true)
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.stopped.Store(true)
	sub, done := s.sub, s.done
	s.mu.Unlock()

	err := sub.Close()
	<-done
	s.monitor.unregister(s)
	s.monitor.logger.InfoContext(s.baseCtx, "monitoring session stopped", "organization_id", s.orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransientIO, "failed to close inventory subscription")
	}
	return nil
}

// Observe registers fn and returns a function that removes it.
func (s *Session) Observe(fn Observer) (cancel func()) {
	s.obsMu.Lock()
	key := s.nextObs
	s.nextObs++
	s.observers[key] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, key)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) loop(snapshots <-chan invmodels.Snapshot) {
	defer close(s.done)
	for snap := range snapshots {
		// drain after Stop; the feed may still hand over one snapshot
		if s.stopped.Load() {
			continue
		}
		s.pass(snap)
	}
}

// pass runs one evaluate-reconcile-notify cycle under the organization lock.
func (s *Session) pass(snap invmodels.Snapshot) {
	m := s.monitor
	s.lock.mu.Lock()
	defer s.lock.mu.Unlock()
	if s.stopped.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, m.passTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "monitor.pass", trace.WithAttributes(
		attribute.String("organization_id", s.orgID.String()),
		attribute.Int("items", len(snap.Items)),
	))
	defer span.End()

	start := time.Now()
	now := m.clock()
	ctx = requestcontext.WithTime(ctx, now)

	findings := rules.Evaluate(snap.Items, now, m.rules)
	out, err := m.applier.ApplyFindings(ctx, s.orgID, findings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply findings failed")
		m.metrics.ObservePass("error", time.Since(start))
		m.logger.ErrorContext(ctx, "monitoring pass failed",
			"organization_id", s.orgID,
			"findings", len(findings),
			"error", err,
		)
		return
	}

	span.SetAttributes(
		attribute.Int("findings", len(findings)),
		attribute.Int("alerts.created", len(out.Created)),
		attribute.Int("alerts.stale", len(out.Stale)),
		attribute.Int("alerts.open", len(out.Open)),
	)
	m.metrics.ObservePass("ok", time.Since(start))
	if len(out.Created) > 0 || len(out.Stale) > 0 {
		m.logger.InfoContext(ctx, "monitoring pass applied",
			"organization_id", s.orgID,
			"created", len(out.Created),
			"skipped", len(out.Skipped),
			"stale", len(out.Stale),
			"open", len(out.Open),
		)
	}
	s.notify(ctx, Notification{OrganizationID: s.orgID, Open: out.Open, At: now})
}

// notify must be called with the organization lock held.
func (s *Session) notify(ctx context.Context, n Notification) {
	if s.stopped.Load() {
		return
	}
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ctx, n)
	}
	s.monitor.metrics.ObserveNotified(len(observers))
}
