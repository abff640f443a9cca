package monitor

import (
	"context"
	"time"

	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/service"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
)

// Subscription is a live stream of snapshots for one organization. The
// channel is closed after Close returns.
type Subscription interface {
	Snapshots() <-chan invmodels.Snapshot
	Close() error
}

// InventorySource opens snapshot subscriptions.
type InventorySource interface {
	Subscribe(ctx context.Context, orgID id.OrganizationID) (Subscription, error)
}

// AlertApplier persists the findings of one pass.
type AlertApplier interface {
	ApplyFindings(ctx context.Context, orgID id.OrganizationID, findings []models.Finding) (*service.Outcome, error)
}

// Notification is what observers receive after a pass or a dismissal.
type Notification struct {
	OrganizationID id.OrganizationID
	Open           []*models.Alert
	At             time.Time
}

// Observer is called synchronously while the organization's lock is held.
// It must not block.
type Observer func(ctx context.Context, n Notification)
