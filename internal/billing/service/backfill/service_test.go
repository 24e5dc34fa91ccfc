package backfill

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
)

type BackfillSuite struct {
	suite.Suite
	users    *userstore.InMemoryStore
	payments *paymentstore.InMemoryStore
	service  *Service
	now      time.Time
}

func TestBackfillSuite(t *testing.T) {
	suite.Run(t, new(BackfillSuite))
}

func (s *BackfillSuite) SetupTest() {
	s.users = userstore.New()
	s.payments = paymentstore.New()
	s.now = time.Date(2026, 8, 31, 15, 42, 7, 0, time.UTC)

	var err error
	s.service, err = New(s.users, s.payments,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *BackfillSuite) seedUser(plan models.Plan) *models.User {
	u := &models.User{
		ID:               id.NewUserID(),
		Email:            "beta@example.com",
		Plan:             plan,
		HasVerifiedEmail: true,
	}
	s.Require().NoError(s.users.Save(context.Background(), u))
	return u
}

func (s *BackfillSuite) TestCandidates() {
	ctx := context.Background()

	eligible := s.seedUser(models.PlanTeam)

	banned := s.seedUser(models.PlanTeam)
	banned.IsBanned = true
	s.Require().NoError(s.users.Save(ctx, banned))

	unverified := s.seedUser(models.PlanEnhancedProtection)
	unverified.HasVerifiedEmail = false
	s.Require().NoError(s.users.Save(ctx, unverified))

	free := s.seedUser(models.PlanFree)

	ids, err := s.service.Candidates(ctx)
	s.NoError(err)
	s.ElementsMatch([]id.UserID{eligible.ID}, ids)
	s.NotContains(ids, free.ID)
}

func (s *BackfillSuite) TestBackfill() {
	ctx := context.Background()

	s.Run("creates one fully-refunded yearly credit", func() {
		u := s.seedUser(models.PlanEnhancedProtection)

		created, err := s.service.Backfill(ctx, u.ID)
		s.Require().NoError(err)
		s.Require().NotNil(created)

		s.Equal(int64(300*12), created.Amount)
		s.Equal(created.Amount, created.AmountRefunded)
		s.Equal(models.MethodFreeBetaProgram, created.Method)
		s.Equal(models.PlanEnhancedProtection, created.Plan)
		s.Equal(models.KindOneTime, created.Kind)
		s.Equal(365*24*time.Hour, created.Duration)
		// Invoice lands at the start of the current UTC day.
		s.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), created.InvoiceAt)

		count, err := s.payments.CountByUser(ctx, u.ID)
		s.NoError(err)
		s.Equal(1, count)
	})

	s.Run("team tier gets the team rate", func() {
		u := s.seedUser(models.PlanTeam)

		created, err := s.service.Backfill(ctx, u.ID)
		s.Require().NoError(err)
		s.Require().NotNil(created)
		s.Equal(int64(900*12), created.Amount)
	})

	s.Run("any existing ledger entry blocks the credit", func() {
		u := s.seedUser(models.PlanTeam)
		existing := &models.PaymentEvent{
			ID:        id.NewPaymentID(),
			UserID:    u.ID,
			Reference: "r1",
			Amount:    100,
			InvoiceAt: s.now.Add(-48 * time.Hour),
			Method:    models.MethodCreditCard, // not a benefit entry, still blocks
			Plan:      models.PlanTeam,
			Kind:      models.KindOneTime,
		}
		s.Require().NoError(s.payments.Create(ctx, existing))

		created, err := s.service.Backfill(ctx, u.ID)
		s.NoError(err)
		s.Nil(created)

		count, err := s.payments.CountByUser(ctx, u.ID)
		s.NoError(err)
		s.Equal(1, count)
	})

	s.Run("running twice never doubles the credit", func() {
		u := s.seedUser(models.PlanTeam)

		first, err := s.service.Backfill(ctx, u.ID)
		s.Require().NoError(err)
		s.Require().NotNil(first)

		second, err := s.service.Backfill(ctx, u.ID)
		s.NoError(err)
		s.Nil(second)

		count, err := s.payments.CountByUser(ctx, u.ID)
		s.NoError(err)
		s.Equal(1, count)
	})
}
