package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/platform/sentinel"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists alerts in the embedded database. Times are RFC 3339
// text in UTC. Transactions start IMMEDIATE (see platform/sqlite), which
// serializes Execute against concurrent writers.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+`
		FROM alerts
		WHERE organization_id = ? AND status = 'new'
		ORDER BY created_at, item_id, kind, id`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	return collect(rows, scanSQLite)
}

func (s *SQLiteStore) List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+`
		FROM alerts
		WHERE organization_id = ?
		ORDER BY created_at, item_id, kind, id`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collect(rows, scanSQLite)
}

func (s *SQLiteStore) FindByID(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error) {
	a, err := scanSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ? AND organization_id = ?`,
		alertID.String(), orgID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find alert by id: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, item_id, kind) WHERE status = 'new' DO NOTHING`,
		alert.ID.String(),
		alert.OrganizationID.String(),
		alert.ItemID.String(),
		string(alert.Kind),
		alert.ItemName,
		alert.Quantity,
		formatTime(alert.ExpiryDate),
		string(alert.Status),
		alert.CreatedAt.UTC().Format(sqliteTimeLayout),
		formatTime(alert.DismissedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Execute(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanSQLite(tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ? AND organization_id = ?`,
		alertID.String(), orgID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if err := validate(a); err != nil {
		return nil, err
	}
	mutate(a)

	if _, err := tx.ExecContext(ctx, `UPDATE alerts SET status = ?, dismissed_at = ? WHERE id = ?`,
		string(a.Status), formatTime(a.DismissedAt), a.ID.String()); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit alert update: %w", err)
	}
	return a, nil
}

func scanSQLite(row rowScanner) (*models.Alert, error) {
	var (
		r                   alertRow
		createdAt           string
		expiry, dismissedAt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.ItemID, &r.Kind, &r.ItemName, &r.Quantity,
		&expiry, &r.Status, &createdAt, &dismissedAt); err != nil {
		return nil, err
	}
	a, err := r.toAlert()
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of alert %s: %w", r.ID, err)
	}
	if a.ExpiryDate, err = parseTime(expiry); err != nil {
		return nil, fmt.Errorf("parse expiry_date of alert %s: %w", r.ID, err)
	}
	if a.DismissedAt, err = parseTime(dismissedAt); err != nil {
		return nil, fmt.Errorf("parse dismissed_at of alert %s: %w", r.ID, err)
	}
	return a, nil
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(sqliteTimeLayout), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
