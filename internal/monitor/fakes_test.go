package monitor

import (
	"context"
	"sync"

	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/service"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	subs  map[id.OrganizationID][]*fakeSub
	calls int
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[id.OrganizationID][]*fakeSub)}
}

func (f *fakeSource) Subscribe(_ context.Context, orgID id.OrganizationID) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	f.subs[orgID] = append(f.subs[orgID], sub)
	return sub, nil
}

// push delivers snap to every subscription of orgID.
func (f *fakeSource) push(orgID id.OrganizationID, items ...invmodels.InventoryItem) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[orgID]...)
	f.mu.Unlock()
	for _, s := range subs {
		s.push(invmodels.Snapshot{OrganizationID: orgID, Items: items})
	}
}

func (f *fakeSource) subscriptions(orgID id.OrganizationID) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs[orgID]...)
}

type fakeSub struct {
	in     chan invmodels.Snapshot
	out    chan invmodels.Snapshot
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newFakeSub() *fakeSub {
	s := &fakeSub{
		in:     make(chan invmodels.Snapshot),
		out:    make(chan invmodels.Snapshot),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.out)
		for {
			select {
			case <-s.closed:
				return
			case snap := <-s.in:
				select {
				case s.out <- snap:
				case <-s.closed:
					return
				}
			}
		}
	}()
	return s
}

func (s *fakeSub) push(snap invmodels.Snapshot) {
	select {
	case s.in <- snap:
	case <-s.closed:
	}
}

func (s *fakeSub) Snapshots() <-chan invmodels.Snapshot { return s.out }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	<-s.done
	return nil
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// gateApplier blocks every call until released and records overlap.
type gateApplier struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
	entered   chan id.OrganizationID
	release   chan struct{}
	ctxErrs   []error
}

func newGateApplier() *gateApplier {
	return &gateApplier{entered: make(chan id.OrganizationID, 16), release: make(chan struct{})}
}

func (g *gateApplier) ApplyFindings(ctx context.Context, orgID id.OrganizationID, _ []models.Finding) (*service.Outcome, error) {
	g.mu.Lock()
	g.active++
	g.calls++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	g.entered <- orgID
	<-g.release

	g.mu.Lock()
	g.active--
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	return &service.Outcome{}, nil
}

func (g *gateApplier) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive
}

// scriptedApplier returns queued errors before delegating.
type scriptedApplier struct {
	mu       sync.Mutex
	errs     []error
	delegate AlertApplier
}

func (a *scriptedApplier) ApplyFindings(ctx context.Context, orgID id.OrganizationID, findings []models.Finding) (*service.Outcome, error) {
	a.mu.Lock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		a.mu.Unlock()
		return nil, err
	}
	a.mu.Unlock()
	return a.delegate.ApplyFindings(ctx, orgID, findings)
}
