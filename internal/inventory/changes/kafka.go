package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "stockwatch/pkg/domain"
)

// KafkaNotifier consumes a topic keyed by organization ID. Every instance
// reads every partition from the end without a consumer group: a signal must
// reach all replicas, and history is irrelevant because watchers refetch.
type KafkaNotifier struct {
	*Broadcaster
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier expects a client built with ConsumeOptions(topic).
func NewKafkaNotifier(client *kgo.Client, topic string, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		Broadcaster: NewBroadcaster(),
		client:      client,
		topic:       topic,
		logger:      logger,
	}
}

// ConsumeOptions are the client options the notifier relies on.
func ConsumeOptions(topic string) []kgo.Opt {
	return []kgo.Opt{
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
}

func (n *KafkaNotifier) Run(ctx context.Context) error {
	n.logger.InfoContext(ctx, "inventory consumer started", "topic", n.topic)
	for {
		fetches := n.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			n.logger.WarnContext(ctx, "inventory fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			orgID, err := id.ParseOrganizationID(string(r.Key))
			if err != nil {
				n.logger.WarnContext(ctx, "ignoring inventory record with bad key", "offset", r.Offset)
				return
			}
			n.Signal(orgID)
		})
	}
}

func (n *KafkaNotifier) Publish(ctx context.Context, orgID id.OrganizationID) error {
	rec := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(orgID.String()),
		Value: []byte(time.Now().UTC().Format(time.RFC3339Nano)),
	}
	if err := n.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish inventory change: %w", err)
	}
	return nil
}
