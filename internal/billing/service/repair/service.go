// Package repair normalizes corrupt field encodings on ledger entries. The
// document layer has historically written explicit nulls into optional
// string fields; the canonical representation for absence is field omission,
// so repair rewrites one to the other. Amounts, dates, and plan values are
// never touched.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/publisher"
	"ledgerd/pkg/platform/sentinel"
)

type Service struct {
	payments ports.PaymentStore
	logger   *slog.Logger
	events   *publisher.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEvents(pub *publisher.Publisher) Option {
	return func(s *Service) { s.events = pub }
}

func New(payments ports.PaymentStore, opts ...Option) (*Service, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment store is required")
	}
	svc := &Service{payments: payments, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Candidates selects every payment with at least one explicitly-null string
// field, a single OR query across the declared repair-eligible fields.
func (s *Service) Candidates(ctx context.Context) ([]id.PaymentID, error) {
	ids, err := s.payments.ListNullStringIDs(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list null-field payments")
	}
	return ids, nil
}

// Repair rewrites explicit-null string fields to absent on one payment.
// Returns true when a write happened; a record that became clean between
// selection and load is a no-op, and one that disappeared entirely is a
// skip, not a failure.
func (s *Service) Repair(ctx context.Context, paymentID id.PaymentID) (bool, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.Wrap(err, dErrors.CodeNotFound, "payment does not exist")
		}
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load payment")
	}

	var cleared []string
	for _, f := range models.RepairableStringFields {
		field := f.Get(payment)
		if field.IsExplicitNull() {
			field.Clear()
			cleared = append(cleared, f.Name)
		}
	}
	if len(cleared) == 0 {
		return false, nil
	}

	s.logger.Info("repairing null payment fields",
		"payment", paymentID.String(),
		"fields", strings.Join(cleared, ","),
	)
	if err := s.payments.Save(ctx, payment); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "save repaired payment")
	}
	if s.events != nil {
		if err := s.events.Emit(ctx, events.Event{
			Action:    events.ActionPaymentRepaired,
			UserID:    payment.UserID,
			PaymentID: paymentID,
			Detail:    strings.Join(cleared, ","),
		}); err != nil {
			s.logger.Warn("event emit failed", "action", "payment_repaired", "error", err)
		}
	}
	return true, nil
}
