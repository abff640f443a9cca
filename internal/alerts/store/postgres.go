package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/platform/sentinel"
)

// PostgresStore persists alerts in PostgreSQL. The partial unique index
// alerts_open_key backs CreateIfAbsent; Execute locks the row with FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE organization_id = $1 AND status = 'new'
		ORDER BY created_at, item_id, kind, id`
	rows, err := s.db.QueryContext(ctx, query, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	return collect(rows, scanPostgres)
}

func (s *PostgresStore) List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE organization_id = $1
		ORDER BY created_at, item_id, kind, id`
	rows, err := s.db.QueryContext(ctx, query, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collect(rows, scanPostgres)
}

func (s *PostgresStore) FindByID(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 AND organization_id = $2`
	a, err := scanPostgres(s.db.QueryRowContext(ctx, query, uuid.UUID(alertID), orgID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find alert by id: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (organization_id, item_id, kind) WHERE status = 'new' DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(alert.ID),
		alert.OrganizationID.String(),
		alert.ItemID.String(),
		string(alert.Kind),
		alert.ItemName,
		alert.Quantity,
		nullTime(alert.ExpiryDate),
		string(alert.Status),
		alert.CreatedAt,
		nullTime(alert.DismissedAt),
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

func (s *PostgresStore) Execute(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	a, err := scanPostgres(tx.QueryRowContext(ctx, query, uuid.UUID(alertID), orgID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock alert: %w", err)
	}
	if err := validate(a); err != nil {
		return nil, err
	}
	mutate(a)

	_, err = tx.ExecContext(ctx,
		`UPDATE alerts SET status = $1, dismissed_at = $2 WHERE id = $3`,
		string(a.Status), nullTime(a.DismissedAt), uuid.UUID(a.ID),
	)
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit alert update: %w", err)
	}
	return a, nil
}

func scanPostgres(row rowScanner) (*models.Alert, error) {
	var (
		r                   alertRow
		expiry, dismissedAt sql.NullTime
		createdAt           sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.ItemID, &r.Kind, &r.ItemName, &r.Quantity,
		&expiry, &r.Status, &createdAt, &dismissedAt); err != nil {
		return nil, err
	}
	a, err := r.toAlert()
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt.Time.UTC()
	a.ExpiryDate = timePtr(expiry)
	a.DismissedAt = timePtr(dismissedAt)
	return a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
