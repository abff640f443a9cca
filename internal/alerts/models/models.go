// Package models defines alerts and the findings that raise them.
package models

import (
	"time"

	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
)

// Kind is the risk an alert reports.
type Kind string

const (
	KindLowStock   Kind = "low_stock"
	KindNearExpiry Kind = "near_expiry"
)

func (k Kind) IsValid() bool {
	return k == KindLowStock || k == KindNearExpiry
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusNew       Status = "new"
	StatusDismissed Status = "dismissed"
)

func (s Status) IsValid() bool {
	return s == StatusNew || s == StatusDismissed
}

// Key identifies the condition an alert is about. At most one alert per key
// may be open at a time.
type Key struct {
	OrganizationID id.OrganizationID
	ItemID         id.ItemID
	Kind           Kind
}

// Finding is one rule match on one item at one instant. Findings are never stored.
type Finding struct {
	ItemID           id.ItemID  `json:"itemId"`
	ItemName         string     `json:"itemName"`
	Kind             Kind       `json:"kind"`
	ObservedQuantity int        `json:"quantity"`
	ObservedExpiry   *time.Time `json:"expiryDate,omitempty"`
}

// Alert is the aggregate root for a raised risk.
//
// Invariants:
//   - Kind and Status are valid enum values
//   - ItemName, Quantity and ExpiryDate are the snapshot taken at creation and never refreshed
//   - Status transitions: new -> dismissed only; dismissed is terminal
//   - DismissedAt is set iff Status is dismissed
type Alert struct {
	ID             id.AlertID        `json:"id"`
	OrganizationID id.OrganizationID `json:"organizationId"`
	ItemID         id.ItemID         `json:"itemId"`
	Kind           Kind              `json:"type"`
	ItemName       string            `json:"itemName"`
	Quantity       int               `json:"quantity"`
	ExpiryDate     *time.Time        `json:"expiryDate,omitempty"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	DismissedAt    *time.Time        `json:"dismissedAt,omitempty"`
}

// NewAlert opens an alert for a finding.
func NewAlert(alertID id.AlertID, orgID id.OrganizationID, f Finding, now time.Time) (*Alert, error) {
	if alertID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInternal, "alert ID cannot be nil")
	}
	if orgID.IsNil() || f.ItemID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "alert requires organization and item")
	}
	if !f.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown alert kind")
	}
	var expiry *time.Time
	if f.ObservedExpiry != nil {
		e := *f.ObservedExpiry
		expiry = &e
	}
	return &Alert{
		ID:             alertID,
		OrganizationID: orgID,
		ItemID:         f.ItemID,
		Kind:           f.Kind,
		ItemName:       f.ItemName,
		Quantity:       f.ObservedQuantity,
		ExpiryDate:     expiry,
		Status:         StatusNew,
		CreatedAt:      now,
	}, nil
}

func (a *Alert) Key() Key {
	return Key{OrganizationID: a.OrganizationID, ItemID: a.ItemID, Kind: a.Kind}
}

func (a *Alert) IsOpen() bool {
	return a.Status == StatusNew
}

// CanDismiss checks the new -> dismissed transition.
func (a *Alert) CanDismiss() error {
	if a.Status != StatusNew {
		return dErrors.New(dErrors.CodeInvalidStateTransition, "alert is not open")
	}
	return nil
}

// ApplyDismissal transitions the alert to dismissed.
// Must only be called after CanDismiss returns nil.
func (a *Alert) ApplyDismissal(now time.Time) {
	a.Status = StatusDismissed
	a.DismissedAt = &now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.ExpiryDate != nil {
		e := *a.ExpiryDate
		c.ExpiryDate = &e
	}
	if a.DismissedAt != nil {
		d := *a.DismissedAt
		c.DismissedAt = &d
	}
	return &c
}
