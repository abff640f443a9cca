// Package store persists alerts. Every backend enforces the open-alert
// uniqueness rule itself, so concurrent writers can never create two open
// alerts for one (organization, item, kind).
package store

import (
	"context"
	"sort"
	"sync"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/platform/sentinel"
)

// InMemoryStore keeps alerts behind one mutex.
type InMemoryStore struct {
	mu     sync.RWMutex
	alerts map[id.AlertID]*models.Alert
	open   map[models.Key]id.AlertID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		alerts: make(map[id.AlertID]*models.Alert),
		open:   make(map[models.Key]id.AlertID),
	}
}

func (s *InMemoryStore) ListOpen(_ context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for _, alertID := range s.open {
		if a := s.alerts[alertID]; a.OrganizationID == orgID {
			out = append(out, a.Clone())
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for _, a := range s.alerts {
		if a.OrganizationID == orgID {
			out = append(out, a.Clone())
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok || a.OrganizationID != orgID {
		return nil, sentinel.ErrNotFound
	}
	return a.Clone(), nil
}

// CreateIfAbsent inserts alert unless an open alert with the same key exists.
// Reports whether it inserted.
func (s *InMemoryStore) CreateIfAbsent(_ context.Context, alert *models.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return false, sentinel.ErrConflict
	}
	if alert.IsOpen() {
		if _, taken := s.open[alert.Key()]; taken {
			return false, nil
		}
		s.open[alert.Key()] = alert.ID
	}
	s.alerts[alert.ID] = alert.Clone()
	return true, nil
}

// Execute runs validate then mutate under the write lock. If validate fails
// the alert is untouched.
func (s *InMemoryStore) Execute(_ context.Context, orgID id.OrganizationID, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok || a.OrganizationID != orgID {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(a.Clone()); err != nil {
		return nil, err
	}
	wasOpen := a.IsOpen()
	mutate(a)
	if wasOpen && !a.IsOpen() {
		delete(s.open, a.Key())
	}
	return a.Clone(), nil
}

// sortAlerts orders by creation time, then item and kind, so listings are stable.
func sortAlerts(alerts []*models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID.String() < b.ID.String()
	})
}
