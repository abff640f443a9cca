// Package events publishes alert lifecycle events to an external sink.
package events

import (
	"context"
	"time"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
)

type Type string

const (
	TypeAlertCreated   Type = "alert_created"
	TypeAlertDismissed Type = "alert_dismissed"
)

// Event is the record written to sinks. Alert is a copy taken at emission time.
type Event struct {
	Type           Type              `json:"type"`
	OrganizationID id.OrganizationID `json:"organizationId"`
	Alert          models.Alert      `json:"alert"`
	OccurredAt     time.Time         `json:"occurredAt"`
	RequestID      string            `json:"requestId,omitempty"`
}

// AlertCreated builds the event for a newly opened alert.
func AlertCreated(a *models.Alert, now time.Time) Event {
	return Event{Type: TypeAlertCreated, OrganizationID: a.OrganizationID, Alert: *a.Clone(), OccurredAt: now}
}

// AlertDismissed builds the event for a dismissal.
func AlertDismissed(a *models.Alert, now time.Time) Event {
	return Event{Type: TypeAlertDismissed, OrganizationID: a.OrganizationID, Alert: *a.Clone(), OccurredAt: now}
}

// Sink persists or forwards events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}
