package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
)

// SQLiteReader reads snapshots from the embedded database. Expiry dates are
// stored as RFC 3339 text.
type SQLiteReader struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteReader(db *sql.DB) *SQLiteReader {
	return &SQLiteReader{db: db, now: time.Now}
}

func (r *SQLiteReader) Snapshot(ctx context.Context, orgID id.OrganizationID) (*models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, quantity, expiry_date, category
		FROM inventory_items
		WHERE organization_id = ?
		ORDER BY id`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("query inventory items: %w", err)
	}
	defer rows.Close()

	items := []models.InventoryItem{}
	for rows.Next() {
		var (
			item   models.InventoryItem
			itemID string
			expiry sql.NullString
		)
		if err := rows.Scan(&itemID, &item.Name, &item.Quantity, &expiry, &item.Category); err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		item.ID = id.ItemID(itemID)
		if expiry.Valid && expiry.String != "" {
			t, err := time.Parse(time.RFC3339Nano, expiry.String)
			if err != nil {
				return nil, fmt.Errorf("parse expiry of item %s: %w", itemID, err)
			}
			t = t.UTC()
			item.ExpiryDate = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory items: %w", err)
	}
	return &models.Snapshot{OrganizationID: orgID, Items: items, TakenAt: r.now()}, nil
}

// Upsert writes an item. The external collaborator owns inventory; this
// exists for seeding single-node deployments and tests.
func (r *SQLiteReader) Upsert(ctx context.Context, orgID id.OrganizationID, item models.InventoryItem) error {
	var expiry sql.NullString
	if item.ExpiryDate != nil {
		expiry = sql.NullString{String: item.ExpiryDate.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_items (organization_id, id, name, quantity, expiry_date, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			expiry_date = excluded.expiry_date,
			category = excluded.category,
			updated_at = excluded.updated_at`,
		orgID.String(), item.ID.String(), item.Name, item.Quantity, expiry, item.Category,
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert inventory item: %w", err)
	}
	return nil
}
