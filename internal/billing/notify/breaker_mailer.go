package notify

import (
	"context"
	"log/slog"

	"ledgerd/internal/billing/ports"
	dErrors "ledgerd/pkg/domain-errors"
	"ledgerd/pkg/platform/circuit"
)

// BreakerMailer wraps a Mailer with a circuit breaker. Once the transport
// trips, remaining items in the batch fail fast with CodeUnavailable and
// stay unstamped, so the next scheduled run retries them.
type BreakerMailer struct {
	inner   ports.Mailer
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewBreakerMailer(inner ports.Mailer, breaker *circuit.Breaker, logger *slog.Logger) *BreakerMailer {
	return &BreakerMailer{inner: inner, breaker: breaker, logger: logger}
}

var _ ports.Mailer = (*BreakerMailer)(nil)

func (m *BreakerMailer) Send(ctx context.Context, msg ports.Message) error {
	if m.breaker.IsOpen() {
		// The dispatcher resets the breaker at the start of each run, so an
		// open circuit fails fast for the remainder of this run only.
		return dErrors.New(dErrors.CodeUnavailable, "mail transport circuit open")
	}

	if err := m.inner.Send(ctx, msg); err != nil {
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logger.Warn("mail transport circuit opened", "breaker", m.breaker.Name())
		}
		return err
	}

	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.Info("mail transport circuit closed", "breaker", m.breaker.Name())
	}
	return nil
}
