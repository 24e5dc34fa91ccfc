// Package backfill grants the complementary beta credit to paid users whose
// ledger is empty. Early accounts were upgraded before billing capture
// existed, so they hold a paid plan with no entry backing it; the credit is
// the missing entry, a full prepaid year at the plan's monthly rate, issued
// and refunded in the same record so no money moves.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/publisher"
	"ledgerd/pkg/platform/sentinel"
)

const creditDuration = 365 * 24 * time.Hour

type Service struct {
	users    ports.UserStore
	payments ports.PaymentStore
	logger   *slog.Logger
	events   *publisher.Publisher
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEvents(pub *publisher.Publisher) Option {
	return func(s *Service) { s.events = pub }
}

// WithClock overrides the time source; tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(users ports.UserStore, payments ports.PaymentStore, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment store is required")
	}
	svc := &Service{users: users, payments: payments, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Candidates selects paid, verified, non-banned users. The zero-ledger
// precondition is checked per item, not here: counting every user's
// payments in the selection query would be a full scan.
func (s *Service) Candidates(ctx context.Context) ([]id.UserID, error) {
	ids, err := s.users.ListIDs(ctx, ports.UserQuery{
		PaidOnly:             true,
		RequireVerifiedEmail: true,
		ExcludeBanned:        true,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list backfill candidates")
	}
	return ids, nil
}

// Backfill synthesizes the missing credit entry for one user. Users with
// any existing ledger entry are left alone regardless of that entry's
// method. Returns the created entry, or nil when nothing was created.
func (s *Service) Backfill(ctx context.Context, userID id.UserID) (*models.PaymentEvent, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "user does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load user")
	}

	count, err := s.payments.CountByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "count payments")
	}
	if count > 0 {
		return nil, nil
	}

	amount := user.Plan.MonthlyRate() * 12
	credit := &models.PaymentEvent{
		ID:        id.NewPaymentID(),
		UserID:    userID,
		Reference: uuid.NewString()[:8],
		// Issued and refunded in full: the credit represents service
		// already granted, not collectible revenue.
		Amount:         amount,
		AmountRefunded: amount,
		InvoiceAt:      startOfDay(s.now()),
		Method:         models.MethodFreeBetaProgram,
		Duration:       creditDuration,
		Plan:           user.Plan,
		Kind:           models.KindOneTime,
	}
	if err := s.payments.Create(ctx, credit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create benefit credit")
	}

	// Re-save the user so the store's save path recomputes derived plan
	// expiry off the new ledger entry.
	if err := s.users.Save(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "refresh user after credit")
	}

	s.logger.Info("granted beta credit",
		"user", userID.String(),
		"plan", user.Plan.String(),
		"amount", amount,
	)
	if s.events != nil {
		if err := s.events.Emit(ctx, events.Event{
			Action:    events.ActionBenefitCredit,
			UserID:    userID,
			PaymentID: credit.ID,
			Detail:    user.Plan.String(),
		}); err != nil {
			s.logger.Warn("event emit failed", "action", "benefit_credit_created", "error", err)
		}
	}
	return credit, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
