package monitor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/service"
	alertstore "stockwatch/internal/alerts/store"
	"stockwatch/internal/inventory/changes"
	"stockwatch/internal/inventory/feed"
	invmodels "stockwatch/internal/inventory/models"
	invstore "stockwatch/internal/inventory/store"
	"stockwatch/internal/monitor"
	id "stockwatch/pkg/domain"
)

// The full loop: inventory writes signal the feed, the session re-evaluates,
// the dashboard observer sees the open set, and dismissals fan out.
func TestMonitoringFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broadcaster := changes.NewBroadcaster()
	defer broadcaster.Close()
	inventory := invstore.NewInMemoryStore(invstore.WithChangeSignaller(broadcaster))
	require.NoError(t, inventory.Upsert(ctx, "org-1", invmodels.InventoryItem{ID: "rice", Name: "Rice", Quantity: 40}))

	var mon *monitor.Monitor
	alerts := service.New(alertstore.NewInMemoryStore(),
		service.WithLogger(logger),
		service.WithChangeNotifier(service.ChangeNotifierFunc(func(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error)) {
			mon.AlertsChanged(ctx, orgID, load)
		})),
	)
	mon = monitor.New(feed.New(inventory, broadcaster, feed.WithLogger(logger)), alerts,
		monitor.WithClock(func() time.Time { return now }),
		monitor.WithLogger(logger),
	)
	defer func() { require.NoError(t, mon.Shutdown(ctx)) }()

	updates := make(chan monitor.Notification, 16)
	session := mon.NewSession("org-1")
	session.Observe(func(_ context.Context, n monitor.Notification) { updates <- n })
	require.NoError(t, session.Start(ctx))

	next := func() monitor.Notification {
		t.Helper()
		select {
		case n := <-updates:
			return n
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification")
			return monitor.Notification{}
		}
	}

	assert.Empty(t, next().Open, "initial snapshot has nothing at risk")

	require.NoError(t, inventory.Upsert(ctx, "org-1", invmodels.InventoryItem{ID: "eggs", Name: "Eggs", Quantity: 2}))
	open := next().Open
	require.Len(t, open, 1)
	assert.Equal(t, id.ItemID("eggs"), open[0].ItemID)
	assert.Equal(t, models.KindLowStock, open[0].Kind)
	assert.Equal(t, models.StatusNew, open[0].Status)

	_, err := alerts.Dismiss(ctx, "org-1", open[0].ID)
	require.NoError(t, err)
	assert.Empty(t, next().Open, "dismissal is pushed to the session")

	// still at risk: the next pass opens a fresh alert
	require.NoError(t, inventory.Upsert(ctx, "org-1", invmodels.InventoryItem{ID: "eggs", Name: "Eggs", Quantity: 1}))
	reopened := next().Open
	require.Len(t, reopened, 1)
	assert.NotEqual(t, open[0].ID, reopened[0].ID)
}

// A pass that lands between a dismissal and its notification wins: the
// notification reloads the open set under the organization lock instead of
// replaying the set seen at dismissal time.
func TestDismissalNotificationAfterNewerPass(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broadcaster := changes.NewBroadcaster()
	defer broadcaster.Close()
	inventory := invstore.NewInMemoryStore(invstore.WithChangeSignaller(broadcaster))
	alertStore := alertstore.NewInMemoryStore()

	dismissing := make(chan struct{})
	resume := make(chan struct{})
	var mon *monitor.Monitor
	alerts := service.New(alertStore,
		service.WithLogger(logger),
		service.WithChangeNotifier(service.ChangeNotifierFunc(func(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error)) {
			close(dismissing)
			<-resume
			mon.AlertsChanged(ctx, orgID, load)
		})),
	)
	mon = monitor.New(feed.New(inventory, broadcaster, feed.WithLogger(logger)), alerts,
		monitor.WithClock(func() time.Time { return now }),
		monitor.WithLogger(logger),
	)
	defer func() { require.NoError(t, mon.Shutdown(ctx)) }()

	updates := make(chan monitor.Notification, 16)
	session := mon.NewSession("org-1")
	session.Observe(func(_ context.Context, n monitor.Notification) { updates <- n })
	require.NoError(t, session.Start(ctx))

	next := func() monitor.Notification {
		t.Helper()
		select {
		case n := <-updates:
			return n
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification")
			return monitor.Notification{}
		}
	}

	assert.Empty(t, next().Open)
	require.NoError(t, inventory.Upsert(ctx, "org-1", invmodels.InventoryItem{ID: "eggs", Name: "Eggs", Quantity: 2}))
	first := next().Open
	require.Len(t, first, 1)

	dismissed := make(chan error, 1)
	go func() {
		_, err := alerts.Dismiss(ctx, "org-1", first[0].ID)
		dismissed <- err
	}()
	<-dismissing

	// the item is still at risk, so this pass opens a fresh alert
	require.NoError(t, inventory.Upsert(ctx, "org-1", invmodels.InventoryItem{ID: "eggs", Name: "Eggs", Quantity: 1}))
	reopened := next().Open
	require.Len(t, reopened, 1)
	assert.NotEqual(t, first[0].ID, reopened[0].ID)

	close(resume)
	require.NoError(t, <-dismissed)

	last := next().Open
	stored, err := alertStore.ListOpen(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, last, 1, "observer must not fall back to the set seen at dismissal")
	assert.Equal(t, stored[0].ID, last[0].ID)
}
