package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "github.com/ebellera/SSO/pkg/platform/audit"
)

// Store is the append-only sink behind a Publisher.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
}

// Publisher captures structured audit events. In sync mode Emit appends
// directly; in async mode events go through a bounded buffer drained by one
// worker goroutine, and a full buffer drops the event with a warning.
type Publisher struct {
	store  Store
	logger *slog.Logger

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with the given buffer size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

// WithLogger sets the logger used for dropped or failed events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.CategoryFor(audit.AuditEvent(event.Action))
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.buffer <- event:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
	}
	return nil
}

func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close flushes buffered events and stops the worker. Emit must not be called
// after Close.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}
