// Package monitor runs monitoring sessions: each session turns inventory
// snapshots of one organization into alert updates and observer
// notifications.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/rules"
	"stockwatch/internal/monitor/metrics"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/requestcontext"
)

const defaultPassTimeout = 30 * time.Second

// Monitor creates sessions and hands every session of one organization the
// same lock so their passes never overlap.
type Monitor struct {
	source      InventorySource
	applier     AlertApplier
	rules       rules.Config
	passTimeout time.Duration
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	mu       sync.Mutex
	locks    map[id.OrganizationID]*orgLock
	sessions map[id.OrganizationID]map[*Session]struct{}
	shutdown bool
}

type orgLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Monitor)

func WithRules(cfg rules.Config) Option {
	return func(m *Monitor) {
		m.rules = cfg
	}
}

// WithPassTimeout bounds one pass. Passes are detached from session
// cancellation, so this is the only thing that ends a stuck pass.
func WithPassTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.passTimeout = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) {
		m.tracer = tracer
	}
}

func New(source InventorySource, applier AlertApplier, opts ...Option) *Monitor {
	m := &Monitor{
		source:      source,
		applier:     applier,
		rules:       rules.DefaultConfig(),
		passTimeout: defaultPassTimeout,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("stockwatch/monitor"),
		locks:       make(map[id.OrganizationID]*orgLock),
		sessions:    make(map[id.OrganizationID]map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSession returns an idle session for orgID.
func (m *Monitor) NewSession(orgID id.OrganizationID) *Session {
	return &Session{
		monitor:   m,
		orgID:     orgID,
		state:     StateIdle,
		observers: make(map[uint64]Observer),
	}
}

// AlertsChanged notifies every live session of orgID. The open set is loaded
// under the organization lock, so it cannot overwrite a newer pass result.
func (m *Monitor) AlertsChanged(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error)) {
	m.mu.Lock()
	lock := m.locks[orgID]
	live := make([]*Session, 0, len(m.sessions[orgID]))
	for s := range m.sessions[orgID] {
		live = append(live, s)
	}
	m.mu.Unlock()
	if lock == nil || len(live) == 0 {
		return
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()
	open, err := load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "skipping dismissal notification",
			"organization_id", orgID,
			"error", err,
		)
		return
	}
	n := Notification{OrganizationID: orgID, Open: open, At: requestcontext.Now(ctx)}
	for _, s := range live {
		s.notify(ctx, n)
	}
}

// Shutdown stops every live session and refuses new starts. Returns when all
// sessions stopped or ctx ends.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	var live []*Session
	for _, set := range m.sessions {
		for s := range set {
			live = append(live, s)
		}
	}
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, s := range live {
		g.Go(func() error {
			// a concurrent Stop may win; either way the session ends
			_ = s.Stop()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register adds s to the live set and takes a reference on its org lock.
// Returns false after Shutdown.
func (m *Monitor) register(s *Session) (*orgLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, false
	}
	lock, ok := m.locks[s.orgID]
	if !ok {
		lock = &orgLock{}
		m.locks[s.orgID] = lock
	}
	lock.refs++
	set, ok := m.sessions[s.orgID]
	if !ok {
		set = make(map[*Session]struct{})
		m.sessions[s.orgID] = set
	}
	set[s] = struct{}{}
	m.metrics.SessionStarted()
	return lock, true
}

func (m *Monitor) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sessions[s.orgID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.sessions, s.orgID)
		}
	}
	if lock, ok := m.locks[s.orgID]; ok {
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, s.orgID)
		}
	}
	m.metrics.SessionStopped()
}

// LiveSessions reports how many sessions of orgID are subscribed.
func (m *Monitor) LiveSessions(orgID id.OrganizationID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[orgID])
}
