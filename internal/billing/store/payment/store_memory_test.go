package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
	s.now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) seed(userID id.UserID, mutate func(*models.PaymentEvent)) *models.PaymentEvent {
	p := &models.PaymentEvent{
		ID:        id.NewPaymentID(),
		UserID:    userID,
		Reference: "ref",
		Amount:    300,
		InvoiceAt: s.now.Add(-time.Hour),
		Method:    models.MethodCreditCard,
		Plan:      models.PlanEnhancedProtection,
		Kind:      models.KindSubscription,
	}
	if mutate != nil {
		mutate(p)
	}
	s.Require().NoError(s.store.Create(context.Background(), p))
	return p
}

func (s *MemoryStoreSuite) TestCRUD() {
	ctx := context.Background()
	userID := id.NewUserID()

	s.Run("find missing returns the not-found sentinel", func() {
		_, err := s.store.FindByID(ctx, id.NewPaymentID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("create rejects duplicates", func() {
		p := s.seed(userID, nil)
		err := s.store.Create(ctx, p)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("create rejects invalid records", func() {
		p := &models.PaymentEvent{ID: id.NewPaymentID(), UserID: userID}
		err := s.store.Create(ctx, p)
		s.Error(err)
	})

	s.Run("save requires an existing record", func() {
		p := &models.PaymentEvent{
			ID:        id.NewPaymentID(),
			UserID:    userID,
			Reference: "ref",
			Amount:    300,
			InvoiceAt: s.now,
			Method:    models.MethodCreditCard,
			Plan:      models.PlanEnhancedProtection,
			Kind:      models.KindOneTime,
		}
		s.ErrorIs(s.store.Save(ctx, p), sentinel.ErrNotFound)
	})

	s.Run("reads return copies, not shared state", func() {
		p := s.seed(userID, nil)
		got, err := s.store.FindByID(ctx, p.ID)
		s.Require().NoError(err)

		got.Amount = 999999
		again, err := s.store.FindByID(ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(int64(300), again.Amount)
	})
}

func (s *MemoryStoreSuite) TestListByUserDesc() {
	ctx := context.Background()
	userID := id.NewUserID()
	other := id.NewUserID()

	oldest := s.seed(userID, func(p *models.PaymentEvent) { p.InvoiceAt = s.now.Add(-72 * time.Hour) })
	newest := s.seed(userID, func(p *models.PaymentEvent) { p.InvoiceAt = s.now.Add(-time.Hour) })
	middle := s.seed(userID, func(p *models.PaymentEvent) { p.InvoiceAt = s.now.Add(-24 * time.Hour) })
	s.seed(other, nil)

	got, err := s.store.ListByUserDesc(ctx, userID)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal(newest.ID, got[0].ID)
	s.Equal(middle.ID, got[1].ID)
	s.Equal(oldest.ID, got[2].ID)

	n, err := s.store.CountByUser(ctx, userID)
	s.NoError(err)
	s.Equal(3, n)
}

func (s *MemoryStoreSuite) TestListNullStringIDs() {
	ctx := context.Background()
	userID := id.NewUserID()

	corrupt := s.seed(userID, func(p *models.PaymentEvent) {
		p.ReceiptNumber = models.Null()
	})
	s.seed(userID, func(p *models.PaymentEvent) {
		p.ReceiptNumber = models.String("RN-1")
	})
	s.seed(userID, nil)

	ids, err := s.store.ListNullStringIDs(ctx)
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Equal(corrupt.ID, ids[0])
}

func (s *MemoryStoreSuite) TestListReceiptDueIDs() {
	ctx := context.Background()
	userID := id.NewUserID()

	s.Run("orders due payments oldest invoice first", func() {
		later := s.seed(userID, func(p *models.PaymentEvent) { p.InvoiceAt = s.now.Add(-time.Hour) })
		earlier := s.seed(userID, func(p *models.PaymentEvent) { p.InvoiceAt = s.now.Add(-20 * time.Hour) })

		ids, err := s.store.ListReceiptDueIDs(ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(ids, 2)
		s.Equal(earlier.ID, ids[0])
		s.Equal(later.ID, ids[1])
	})

	s.Run("invoice older than the window needs a refund to qualify", func() {
		stale := s.seed(userID, func(p *models.PaymentEvent) {
			p.InvoiceAt = s.now.Add(-25 * time.Hour)
		})
		refunded := s.seed(userID, func(p *models.PaymentEvent) {
			p.InvoiceAt = s.now.Add(-25 * time.Hour)
			p.AmountRefunded = 100
		})

		ids, err := s.store.ListReceiptDueIDs(ctx, s.now)
		s.Require().NoError(err)
		s.NotContains(ids, stale.ID)
		s.Contains(ids, refunded.ID)
	})

	s.Run("non-notifiable methods never qualify on refund alone", func() {
		grandfathered := s.seed(userID, func(p *models.PaymentEvent) {
			p.InvoiceAt = s.now.Add(-48 * time.Hour)
			p.AmountRefunded = p.Amount
			p.Method = models.MethodFreeBetaProgram
		})

		ids, err := s.store.ListReceiptDueIDs(ctx, s.now)
		s.Require().NoError(err)
		s.NotContains(ids, grandfathered.ID)
	})

	s.Run("stamped payments drop out of selection", func() {
		p := s.seed(userID, func(p *models.PaymentEvent) {
			p.InvoiceAt = s.now.Add(-2 * time.Hour)
		})

		err := s.store.SetReceiptStamps(ctx, p.ID, ports.ReceiptStamps{ReceiptSentAt: s.now})
		s.Require().NoError(err)

		ids, err := s.store.ListReceiptDueIDs(ctx, s.now)
		s.Require().NoError(err)
		s.NotContains(ids, p.ID)
	})
}

func (s *MemoryStoreSuite) TestSetReceiptStamps() {
	ctx := context.Background()
	userID := id.NewUserID()

	s.Run("missing payment returns the not-found sentinel", func() {
		err := s.store.SetReceiptStamps(ctx, id.NewPaymentID(), ports.ReceiptStamps{ReceiptSentAt: s.now})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("stamps only the fields it was given", func() {
		p := s.seed(userID, nil)

		s.Require().NoError(s.store.SetReceiptStamps(ctx, p.ID, ports.ReceiptStamps{ReceiptSentAt: s.now}))

		got, err := s.store.FindByID(ctx, p.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.ReceiptSentAt)
		s.True(got.ReceiptSentAt.Equal(s.now))
		s.Nil(got.RefundReceiptSentAt)
		s.Equal(int64(300), got.Amount)
	})

	s.Run("staged refund stamp lands with the receipt stamp", func() {
		p := s.seed(userID, func(p *models.PaymentEvent) { p.AmountRefunded = 100 })

		refundAt := s.now
		s.Require().NoError(s.store.SetReceiptStamps(ctx, p.ID, ports.ReceiptStamps{
			ReceiptSentAt:       s.now,
			RefundReceiptSentAt: &refundAt,
		}))

		got, err := s.store.FindByID(ctx, p.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.RefundReceiptSentAt)
		s.True(got.RefundReceiptSentAt.Equal(s.now))
	})
}
