// Package store reads organization snapshots from the inventory backends.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
)

// ChangeSignaller is told which organization changed after each write.
type ChangeSignaller interface {
	Signal(orgID id.OrganizationID)
}

// InMemoryStore keeps inventory per organization. It backs local runs and
// tests, standing in for the external CRUD collaborator.
type InMemoryStore struct {
	mu      sync.RWMutex
	items   map[id.OrganizationID]map[id.ItemID]models.InventoryItem
	changes ChangeSignaller
	now     func() time.Time
}

type MemoryOption func(*InMemoryStore)

// WithChangeSignaller makes every write emit a change signal for the organization.
func WithChangeSignaller(s ChangeSignaller) MemoryOption {
	return func(m *InMemoryStore) {
		m.changes = s
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *InMemoryStore) {
		m.now = now
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		items: make(map[id.OrganizationID]map[id.ItemID]models.InventoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the organization's items ordered by ID.
// An unknown organization has an empty snapshot.
func (s *InMemoryStore) Snapshot(_ context.Context, orgID id.OrganizationID) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org := s.items[orgID]
	items := make([]models.InventoryItem, 0, len(org))
	for _, item := range org {
		items = append(items, copyItem(item))
	}
	sortItems(items)
	return &models.Snapshot{OrganizationID: orgID, Items: items, TakenAt: s.now()}, nil
}

// Upsert stores item, replacing any item with the same ID.
func (s *InMemoryStore) Upsert(_ context.Context, orgID id.OrganizationID, item models.InventoryItem) error {
	s.mu.Lock()
	org, ok := s.items[orgID]
	if !ok {
		org = make(map[id.ItemID]models.InventoryItem)
		s.items[orgID] = org
	}
	org[item.ID] = copyItem(item)
	s.mu.Unlock()

	s.signal(orgID)
	return nil
}

// Delete removes an item. Deleting an unknown item still signals, so
// watchers converge on the current state.
func (s *InMemoryStore) Delete(_ context.Context, orgID id.OrganizationID, itemID id.ItemID) error {
	s.mu.Lock()
	delete(s.items[orgID], itemID)
	s.mu.Unlock()

	s.signal(orgID)
	return nil
}

func (s *InMemoryStore) signal(orgID id.OrganizationID) {
	if s.changes != nil {
		s.changes.Signal(orgID)
	}
}

func copyItem(item models.InventoryItem) models.InventoryItem {
	if item.ExpiryDate != nil {
		exp := *item.ExpiryDate
		item.ExpiryDate = &exp
	}
	return item
}

func sortItems(items []models.InventoryItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
