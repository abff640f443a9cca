//go:build integration

package changes_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"stockwatch/internal/inventory/changes"
	"stockwatch/internal/inventory/models"
	"stockwatch/internal/inventory/store"
	"stockwatch/internal/platform/config"
	"stockwatch/internal/platform/kafka"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/testutil/containers"
)

type NotifierSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestNotifierSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupSuite() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

type runnable interface {
	changes.Notifier
	Run(ctx context.Context) error
}

// awaitSignal keeps calling trigger until the org's watch fires. Subscriptions
// start asynchronously, so the first triggers may be missed.
func (s *NotifierSuite) awaitSignal(ctx context.Context, n runnable, org id.OrganizationID, trigger func() error) {
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- n.Run(runCtx) }()
	defer func() {
		stop()
		s.NoError(<-done)
	}()

	watch, err := n.Watch(ctx, org)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		if err := trigger(); err != nil {
			return false
		}
		select {
		case <-watch:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 20*time.Second, 50*time.Millisecond)
}

func (s *NotifierSuite) TestPostgresTriggerSignalsOrganization() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg := containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(pg.TruncateTables(ctx, "inventory_items"))
	reader := store.NewPostgresReader(pg.DB)
	n := changes.NewPostgresNotifier(pg.DSN, pg.DB, s.logger)
	defer n.Close()

	qty := 0
	s.awaitSignal(ctx, n, "org-pg", func() error {
		qty++
		return reader.Upsert(ctx, "org-pg", models.InventoryItem{ID: "milk", Name: "Milk", Quantity: qty})
	})
}

func (s *NotifierSuite) TestPostgresPublish() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg := containers.GetManager().GetPostgres(s.T())
	n := changes.NewPostgresNotifier(pg.DSN, pg.DB, s.logger)
	defer n.Close()

	s.awaitSignal(ctx, n, "org-publish", func() error {
		return n.Publish(ctx, "org-publish")
	})
}

func (s *NotifierSuite) TestRedisPublish() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc := containers.GetManager().GetRedis(s.T())
	n := changes.NewRedisNotifier(rc.Client.Client, "stockwatch-test:changes", s.logger)
	defer n.Close()

	s.awaitSignal(ctx, n, "org-redis", func() error {
		return n.Publish(ctx, "org-redis")
	})
}

func (s *NotifierSuite) TestKafkaPublish() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rp := containers.GetManager().GetRedpanda(s.T())
	topic := "changes-" + id.NewAlertID().String()
	client, err := kafka.NewClient(config.Kafka{Brokers: rp.Brokers, ClientID: "stockwatch-test"}, changes.ConsumeOptions(topic)...)
	s.Require().NoError(err)
	defer client.Close()
	s.Require().NoError(kafka.EnsureTopics(ctx, client, 1, topic))

	n := changes.NewKafkaNotifier(client, topic, s.logger)
	defer n.Close()

	s.awaitSignal(ctx, n, "org-kafka", func() error {
		return n.Publish(ctx, "org-kafka")
	})
}
