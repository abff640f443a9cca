package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
)

const alertColumns = `id, organization_id, item_id, kind, item_name, quantity, expiry_date, status, created_at, dismissed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// alertRow is the column set shared by both SQL backends; time encoding is
// backend specific and handled by the codec.
type alertRow struct {
	ID             uuid.UUID
	OrganizationID string
	ItemID         string
	Kind           string
	ItemName       string
	Quantity       int
	Status         string
}

func (r alertRow) toAlert() (*models.Alert, error) {
	kind := models.Kind(r.Kind)
	status := models.Status(r.Status)
	if !kind.IsValid() || !status.IsValid() {
		return nil, fmt.Errorf("alert %s has invalid kind %q or status %q", r.ID, r.Kind, r.Status)
	}
	return &models.Alert{
		ID:             id.AlertID(r.ID),
		OrganizationID: id.OrganizationID(r.OrganizationID),
		ItemID:         id.ItemID(r.ItemID),
		Kind:           kind,
		ItemName:       r.ItemName,
		Quantity:       r.Quantity,
		Status:         status,
	}, nil
}

func collect(rows *sql.Rows, scan func(rowScanner) (*models.Alert, error)) ([]*models.Alert, error) {
	defer rows.Close()
	out := make([]*models.Alert, 0)
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}
