package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
)

// PostgresReader reads snapshots from the inventory_items table.
type PostgresReader struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresReader(db *sql.DB) *PostgresReader {
	return &PostgresReader{db: db, now: time.Now}
}

func (r *PostgresReader) Snapshot(ctx context.Context, orgID id.OrganizationID) (*models.Snapshot, error) {
	query := `
		SELECT id, name, quantity, expiry_date, category
		FROM inventory_items
		WHERE organization_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("query inventory items: %w", err)
	}
	defer rows.Close()

	items := []models.InventoryItem{}
	for rows.Next() {
		var (
			item   models.InventoryItem
			itemID string
			expiry sql.NullTime
		)
		if err := rows.Scan(&itemID, &item.Name, &item.Quantity, &expiry, &item.Category); err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		item.ID = id.ItemID(itemID)
		if expiry.Valid {
			t := expiry.Time.UTC()
			item.ExpiryDate = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory items: %w", err)
	}
	return &models.Snapshot{OrganizationID: orgID, Items: items, TakenAt: r.now()}, nil
}

// Upsert writes an item; the notify trigger announces the change.
// Production writes come from the external collaborator; this serves seeding and tests.
func (r *PostgresReader) Upsert(ctx context.Context, orgID id.OrganizationID, item models.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (organization_id, id, name, quantity, expiry_date, category, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			quantity = EXCLUDED.quantity,
			expiry_date = EXCLUDED.expiry_date,
			category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at
	`
	var expiry sql.NullTime
	if item.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *item.ExpiryDate, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		orgID.String(), item.ID.String(), item.Name, item.Quantity, expiry, item.Category, r.now())
	if err != nil {
		return fmt.Errorf("upsert inventory item: %w", err)
	}
	return nil
}
