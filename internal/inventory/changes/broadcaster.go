// Package changes delivers "inventory of organization X changed" signals to
// watchers. Signals carry no payload; watchers refetch the snapshot.
package changes

import (
	"context"
	"sync"

	id "stockwatch/pkg/domain"
	"stockwatch/pkg/platform/sentinel"
)

// Notifier hands out change signal channels per organization. Signals are
// coalesced: a watcher that is busy sees at most one pending signal.
// The channel is closed when ctx ends or the notifier closes.
type Notifier interface {
	Watch(ctx context.Context, orgID id.OrganizationID) (<-chan struct{}, error)
}

// Broadcaster is the in-process fan-out every backend feeds into.
type Broadcaster struct {
	mu       sync.Mutex
	watchers map[id.OrganizationID]map[*watcher]struct{}
	closed   bool
	done     chan struct{}
}

type watcher struct {
	ch   chan struct{}
	once sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.ch) })
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		watchers: make(map[id.OrganizationID]map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
}

func (b *Broadcaster) Watch(ctx context.Context, orgID id.OrganizationID) (<-chan struct{}, error) {
	w := &watcher{ch: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, sentinel.ErrClosed
	}
	set, ok := b.watchers[orgID]
	if !ok {
		set = make(map[*watcher]struct{})
		b.watchers[orgID] = set
	}
	set[w] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(orgID, w)
		case <-b.done:
		}
	}()
	return w.ch, nil
}

// Signal wakes every watcher of orgID.
func (b *Broadcaster) Signal(orgID id.OrganizationID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers[orgID] {
		notify(w.ch)
	}
}

// SignalAll wakes every watcher, used after a backend reconnect when
// signals may have been lost.
func (b *Broadcaster) SignalAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.watchers {
		for w := range set {
			notify(w.ch)
		}
	}
}

// Watching reports the organizations that currently have watchers.
func (b *Broadcaster) Watching() []id.OrganizationID {
	b.mu.Lock()
	defer b.mu.Unlock()
	orgs := make([]id.OrganizationID, 0, len(b.watchers))
	for org := range b.watchers {
		orgs = append(orgs, org)
	}
	return orgs
}

// Close ends every watch. Later Watch calls fail with sentinel.ErrClosed.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for org, set := range b.watchers {
		for w := range set {
			w.close()
		}
		delete(b.watchers, org)
	}
	return nil
}

func (b *Broadcaster) remove(orgID id.OrganizationID, w *watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.watchers[orgID]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(b.watchers, orgID)
		}
	}
	w.close()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
