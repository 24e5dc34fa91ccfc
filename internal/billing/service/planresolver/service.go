// Package planresolver reconciles each user's stored plan and plan-set-at
// timestamp against their payment ledger. The ledger is authoritative: the
// most recent entry decides the plan, and the oldest entry of the leading
// run of that plan decides when it became effective.
package planresolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/publisher"
	"ledgerd/pkg/platform/sentinel"
)

type Service struct {
	users    ports.UserStore
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

func New(users ports.UserStore, payments ports.PaymentStore, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment store is required")
	}
	svc := &Service{users: users, payments: payments, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Candidates enumerates every user off the free plan; free users have no
// paid history to reconcile.
func (s *Service) Candidates(ctx context.Context) ([]id.UserID, error) {
	ids, err := s.users.ListIDs(ctx, ports.UserQuery{PaidOnly: true})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list paid users")
	}
	return ids, nil
}

// Resolution reports what a Resolve call decided, for logging and tests.
type Resolution struct {
	PlanChanged      bool
	PlanSetAtChanged bool
	Plan             models.Plan
	PlanSetAt        time.Time
}

// Resolve recomputes one user's plan and plan-set-at from their ledger.
// Users with no billing history are skipped, not failed. Re-running over
// unchanged data performs no writes.
func (s *Service) Resolve(ctx context.Context, userID id.UserID) (Resolution, error) {
	var res Resolution

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return res, dErrors.Wrap(err, dErrors.CodeNotFound, "user does not exist")
		}
		return res, dErrors.Wrap(err, dErrors.CodeUnavailable, "load user")
	}

	history, err := s.payments.ListByUserDesc(ctx, userID)
	if err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeUnavailable, "load payment history")
	}
	if len(history) == 0 {
		// Never paid; nothing to reconcile.
		return res, nil
	}

	// The most recent entry is authoritative for the current plan.
	if user.Plan != history[0].Plan {
		s.logger.Info("switching plan",
			"user", userID.String(),
			"from", user.Plan.String(),
			"to", history[0].Plan.String(),
		)
		user.Plan = history[0].Plan
		if err := s.users.Save(ctx, user); err != nil {
			return res, dErrors.Wrap(err, dErrors.CodeUnavailable, "save plan change")
		}
		res.PlanChanged = true
		s.emit(ctx, events.ActionPlanChanged, userID, history[0].ID,
			fmt.Sprintf("plan set to %s", user.Plan))
	}

	// Walk the descending history: plan-set-at is the invoice time of the
	// oldest entry in the maximal leading run matching the current plan.
	var planSetAt time.Time
	found := false
	for _, p := range history {
		if p.Plan != user.Plan {
			break
		}
		planSetAt = p.InvoiceAt
		found = true
	}
	if !found {
		// Unreachable while index 0 defines the plan, but stored state can
		// drift; treat as a fatal-for-item invariant breach.
		return res, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("no plan-set-at determinable for user %s", userID))
	}

	res.Plan = user.Plan
	res.PlanSetAt = planSetAt

	if user.PlanSetAt.Equal(planSetAt) {
		return res, nil
	}

	s.logger.Info("correcting plan_set_at",
		"user", userID.String(),
		"from", user.PlanSetAt.Format(time.RFC3339),
		"to", planSetAt.Format(time.RFC3339),
	)
	user.PlanSetAt = planSetAt
	if err := s.users.Save(ctx, user); err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeUnavailable, "save plan_set_at")
	}
	res.PlanSetAtChanged = true
	s.emit(ctx, events.ActionPlanSetAtFixed, userID, history[0].ID,
		planSetAt.Format(time.RFC3339))
	return res, nil
}

func (s *Service) emit(ctx context.Context, action events.Action, userID id.UserID, paymentID id.PaymentID, detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, events.Event{
		Action:    action,
		UserID:    userID,
		PaymentID: paymentID,
		Detail:    detail,
	}); err != nil {
		s.logger.Warn("event emit failed", "action", string(action), "error", err)
	}
}
