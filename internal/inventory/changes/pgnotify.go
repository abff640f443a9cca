package changes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	id "stockwatch/pkg/domain"
)

// PostgresChannel is the NOTIFY channel fed by the inventory_items trigger.
// Payload is the organization ID.
const PostgresChannel = "inventory_changes"

// PostgresNotifier listens on PostgresChannel and fans signals out to watchers.
type PostgresNotifier struct {
	*Broadcaster
	dsn    string
	db     *sql.DB
	logger *slog.Logger
	ping   time.Duration
}

func NewPostgresNotifier(dsn string, db *sql.DB, logger *slog.Logger) *PostgresNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresNotifier{
		Broadcaster: NewBroadcaster(),
		dsn:         dsn,
		db:          db,
		logger:      logger,
		ping:        90 * time.Second,
	}
}

// Run listens until ctx ends. pq reconnects on its own; after a reconnect it
// delivers a nil notification and every watcher is signalled, since
// notifications sent while disconnected are lost.
func (n *PostgresNotifier) Run(ctx context.Context) error {
	listener := pq.NewListener(n.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			n.logger.WarnContext(ctx, "inventory listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			n.logger.InfoContext(ctx, "inventory listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			n.logger.WarnContext(ctx, "inventory listener connection attempt failed", "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(PostgresChannel); err != nil {
		return fmt.Errorf("listen %s: %w", PostgresChannel, err)
	}
	n.logger.InfoContext(ctx, "inventory listener started", "channel", PostgresChannel)

	ticker := time.NewTicker(n.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-listener.Notify:
			if msg == nil {
				n.SignalAll()
				continue
			}
			orgID, err := id.ParseOrganizationID(msg.Extra)
			if err != nil {
				n.logger.WarnContext(ctx, "ignoring inventory notification with bad payload", "payload", msg.Extra)
				continue
			}
			n.Signal(orgID)
		case <-ticker.C:
			// surfaces dead connections pq would otherwise miss
			go func() {
				_ = listener.Ping()
			}()
		}
	}
}

// Publish announces a change for collaborators that write without the trigger.
func (n *PostgresNotifier) Publish(ctx context.Context, orgID id.OrganizationID) error {
	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, orgID.String()); err != nil {
		return fmt.Errorf("notify inventory change: %w", err)
	}
	return nil
}
