package changes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	id "stockwatch/pkg/domain"
)

// RedisNotifier subscribes to a pub/sub channel whose messages are organization IDs.
type RedisNotifier struct {
	*Broadcaster
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisNotifier(client *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		Broadcaster: NewBroadcaster(),
		client:      client,
		channel:     channel,
		logger:      logger,
	}
}

// Run consumes the channel until ctx ends. go-redis resubscribes after
// connection loss; the subscription confirmation that follows triggers a
// SignalAll so watchers refetch anything missed.
func (n *RedisNotifier) Run(ctx context.Context) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	n.logger.InfoContext(ctx, "inventory subscriber started", "channel", n.channel)

	ch := pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			switch msg := raw.(type) {
			case *redis.Subscription:
				if msg.Kind == "subscribe" {
					n.SignalAll()
				}
			case *redis.Message:
				orgID, err := id.ParseOrganizationID(msg.Payload)
				if err != nil {
					n.logger.WarnContext(ctx, "ignoring inventory message with bad payload", "payload", msg.Payload)
					continue
				}
				n.Signal(orgID)
			}
		}
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, orgID id.OrganizationID) error {
	if err := n.client.Publish(ctx, n.channel, orgID.String()).Err(); err != nil {
		return fmt.Errorf("publish inventory change: %w", err)
	}
	return nil
}
