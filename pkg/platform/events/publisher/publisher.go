package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerd/pkg/platform/events"
)

// Publisher decouples event emission from persistence. In sync mode Emit
// appends directly; with an async buffer Emit enqueues and a single worker
// drains to the store, so slow sinks (Kafka) never stall a batch item.
type Publisher struct {
	store  events.Store
	logger *slog.Logger

	inbox chan events.Event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to buffered asynchronous emission.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) { p.inbox = make(chan events.Event, size) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store events.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records one event. Missing ID and timestamp are filled in here so
// callers only describe what happened.
func (p *Publisher) Emit(ctx context.Context, event events.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and drains anything buffered.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		// Detached context: batch cancellation must not drop already
		// accepted events.
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Warn("event append failed",
				"action", string(event.Action), "error", err)
		}
	}
}
