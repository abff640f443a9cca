// Package feed turns a snapshot reader plus change signals into the push
// subscription monitoring sessions consume.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"stockwatch/internal/inventory/changes"
	"stockwatch/internal/inventory/models"
	"stockwatch/internal/monitor"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
)

// SnapshotReader loads the current item set of one organization.
type SnapshotReader interface {
	Snapshot(ctx context.Context, orgID id.OrganizationID) (*models.Snapshot, error)
}

// Feed implements monitor.InventorySource.
type Feed struct {
	reader          SnapshotReader
	notifier        changes.Notifier
	logger          *slog.Logger
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*Feed)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// WithRetry bounds the backoff between failed snapshot reads.
func WithRetry(initial, max time.Duration) Option {
	return func(f *Feed) {
		if initial > 0 {
			f.initialInterval = initial
		}
		if max > 0 {
			f.maxInterval = max
		}
	}
}

func New(reader SnapshotReader, notifier changes.Notifier, opts ...Option) *Feed {
	f := &Feed{
		reader:          reader,
		notifier:        notifier,
		logger:          slog.Default(),
		initialInterval: 200 * time.Millisecond,
		maxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ monitor.InventorySource = (*Feed)(nil)

// Subscribe delivers the current snapshot, then a fresh snapshot after every
// change signal. Failed reads are retried with exponential backoff until the
// subscription closes; they never surface to the consumer. The subscription
// outlives ctx: only Close ends it.
func (f *Feed) Subscribe(ctx context.Context, orgID id.OrganizationID) (monitor.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	signals, err := f.notifier.Watch(subCtx, orgID)
	if err != nil {
		cancel()
		return nil, dErrors.Wrap(err, dErrors.CodeTransientIO, "watch inventory changes")
	}

	sub := &subscription{
		out:    make(chan models.Snapshot),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run(subCtx, orgID, signals, sub)
	return sub, nil
}

func (f *Feed) run(ctx context.Context, orgID id.OrganizationID, signals <-chan struct{}, sub *subscription) {
	defer close(sub.done)
	defer close(sub.out)

	deliver := func() bool {
		snap, err := f.fetch(ctx, orgID)
		if err != nil {
			return false
		}
		select {
		case sub.out <- *snap:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			if !deliver() {
				return
			}
		}
	}
}

// fetch retries until success or ctx ends.
func (f *Feed) fetch(ctx context.Context, orgID id.OrganizationID) (*models.Snapshot, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = f.maxInterval
	b.MaxElapsedTime = 0

	var snap *models.Snapshot
	op := func() error {
		s, err := f.reader.Snapshot(ctx, orgID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.WarnContext(ctx, "inventory snapshot read failed, retrying",
			"organization_id", orgID,
			"retry_in", wait.String(),
			"error", err,
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return snap, nil
}

type subscription struct {
	out    chan models.Snapshot
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Snapshots() <-chan models.Snapshot {
	return s.out
}

// Close stops delivery and waits for the delivery goroutine; the snapshot
// channel is closed when it returns.
func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
