package planresolver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ledgerd/internal/billing/models"
	paymentstore "ledgerd/internal/billing/store/payment"
	userstore "ledgerd/internal/billing/store/user"
	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
)

type PlanResolverSuite struct {
	suite.Suite
	users    *userstore.InMemoryStore
	payments *paymentstore.InMemoryStore
	service  *Service
}

func TestPlanResolverSuite(t *testing.T) {
	suite.Run(t, new(PlanResolverSuite))
}

func (s *PlanResolverSuite) SetupTest() {
	s.users = userstore.New()
	s.payments = paymentstore.New()

	var err error
	s.service, err = New(s.users, s.payments,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
}

func (s *PlanResolverSuite) seedUser(plan models.Plan, planSetAt time.Time) *models.User {
	u := &models.User{
		ID:               id.NewUserID(),
		Email:            "user@example.com",
		Plan:             plan,
		PlanSetAt:        planSetAt,
		HasVerifiedEmail: true,
	}
	s.Require().NoError(s.users.Save(context.Background(), u))
	return u
}

func (s *PlanResolverSuite) seedPayment(userID id.UserID, plan models.Plan, invoiceAt time.Time) {
	p := &models.PaymentEvent{
		ID:        id.NewPaymentID(),
		UserID:    userID,
		Reference: "ref",
		Amount:    3600,
		InvoiceAt: invoiceAt,
		Method:    models.MethodCreditCard,
		Plan:      plan,
		Duration:  365 * 24 * time.Hour,
		Kind:      models.KindOneTime,
	}
	s.Require().NoError(s.payments.Create(context.Background(), p))
}

func (s *PlanResolverSuite) TestNew() {
	s.Run("nil user store returns error", func() {
		_, err := New(nil, s.payments)
		s.Error(err)
	})

	s.Run("nil payment store returns error", func() {
		_, err := New(s.users, nil)
		s.Error(err)
	})
}

func (s *PlanResolverSuite) TestResolve() {
	ctx := context.Background()
	day := func(n int) time.Time {
		return time.Date(2026, 8, n, 12, 0, 0, 0, time.UTC)
	}

	s.Run("missing user returns not found", func() {
		_, err := s.service.Resolve(ctx, id.NewUserID())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("user with no billing history is a no-op", func() {
		u := s.seedUser(models.PlanTeam, day(1))
		writesBefore := s.users.Writes()

		res, err := s.service.Resolve(ctx, u.ID)
		s.NoError(err)
		s.False(res.PlanChanged)
		s.False(res.PlanSetAtChanged)
		s.Equal(writesBefore, s.users.Writes())
	})

	s.Run("plan flips to the most recent entry and plan_set_at points at the run start", func() {
		// History (descending): pro Day10, pro Day5, free Day1. Stored
		// plan is free; the ledger says pro since Day5.
		u := s.seedUser(models.PlanFree, day(1))
		s.seedPayment(u.ID, models.PlanEnhancedProtection, day(10))
		s.seedPayment(u.ID, models.PlanEnhancedProtection, day(5))
		s.seedPayment(u.ID, models.PlanFree, day(1))

		res, err := s.service.Resolve(ctx, u.ID)
		s.NoError(err)
		s.True(res.PlanChanged)
		s.True(res.PlanSetAtChanged)
		s.Equal(models.PlanEnhancedProtection, res.Plan)
		s.Equal(day(5), res.PlanSetAt)

		stored, ok := s.users.Snapshot(u.ID)
		s.Require().True(ok)
		s.Equal(models.PlanEnhancedProtection, stored.Plan)
		s.True(stored.PlanSetAt.Equal(day(5)))
	})

	s.Run("plan_set_at spans the whole history when every entry matches", func() {
		u := s.seedUser(models.PlanTeam, day(9))
		s.seedPayment(u.ID, models.PlanTeam, day(9))
		s.seedPayment(u.ID, models.PlanTeam, day(3))

		res, err := s.service.Resolve(ctx, u.ID)
		s.NoError(err)
		s.False(res.PlanChanged)
		s.True(res.PlanSetAtChanged)
		s.Equal(day(3), res.PlanSetAt)
	})

	s.Run("second run over unchanged data writes nothing", func() {
		u := s.seedUser(models.PlanFree, day(1))
		s.seedPayment(u.ID, models.PlanTeam, day(8))
		s.seedPayment(u.ID, models.PlanTeam, day(2))

		_, err := s.service.Resolve(ctx, u.ID)
		s.Require().NoError(err)

		writesAfterFirst := s.users.Writes()
		res, err := s.service.Resolve(ctx, u.ID)
		s.NoError(err)
		s.False(res.PlanChanged)
		s.False(res.PlanSetAtChanged)
		s.Equal(writesAfterFirst, s.users.Writes())
	})
}
