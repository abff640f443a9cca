package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/sentinel"
	"stockwatch/pkg/requestcontext"
)

// Publisher emits events to a sink, synchronously by default or through a
// bounded buffer drained by one worker.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	buffer chan queued
	wg     sync.WaitGroup
}

type queued struct {
	ctx   context.Context
	event Event
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan queued, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps and publishes e. In async mode it never blocks: a full buffer
// returns a transient error and the event is dropped.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return sentinel.ErrClosed
	}
	if p.buffer == nil {
		return p.sink.Write(ctx, e)
	}
	select {
	case p.buffer <- queued{ctx: context.WithoutCancel(ctx), event: e}:
		return nil
	default:
		return dErrors.New(dErrors.CodeTransientIO, "event buffer full")
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for q := range p.buffer {
		if err := p.sink.Write(q.ctx, q.event); err != nil {
			p.logger.ErrorContext(q.ctx, "failed to write alert event",
				"type", q.event.Type,
				"organization_id", q.event.OrganizationID,
				"alert_id", q.event.Alert.ID,
				"error", err,
			)
		}
	}
}

// Close stops accepting events and waits for buffered ones to be written.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
