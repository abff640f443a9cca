// Package models holds the read-side view of inventory owned by the external
// CRUD collaborator. Nothing in this service mutates inventory in production.
package models

import (
	"time"

	id "stockwatch/pkg/domain"
)

// InventoryItem is one stock line. ExpiryDate is nil for non-perishables.
type InventoryItem struct {
	ID         id.ItemID  `json:"id"`
	Name       string     `json:"name"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	Category   string     `json:"category,omitempty"`
}

// Snapshot is the complete item set of one organization at TakenAt.
type Snapshot struct {
	OrganizationID id.OrganizationID `json:"organizationId"`
	Items          []InventoryItem   `json:"items"`
	TakenAt        time.Time         `json:"takenAt"`
}

// Perishable reports whether the item carries an expiry date.
func (i InventoryItem) Perishable() bool {
	return i.ExpiryDate != nil
}
