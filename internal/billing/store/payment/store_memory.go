package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in process memory. Selection queries mirror
// the document-store predicates the Postgres implementation runs, so the
// jobs behave identically against either backend.
type InMemoryStore struct {
	mu       sync.RWMutex
	payments map[id.PaymentID]*models.PaymentEvent
	writes   int
}

func New() *InMemoryStore {
	return &InMemoryStore{payments: make(map[id.PaymentID]*models.PaymentEvent)}
}

var _ ports.PaymentStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) FindByID(_ context.Context, paymentID id.PaymentID) (*models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) ListByUserDesc(_ context.Context, userID id.UserID) ([]*models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PaymentEvent
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InvoiceAt.After(out[j].InvoiceAt)
	})
	return out, nil
}

func (s *InMemoryStore) CountByUser(_ context.Context, userID id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.payments {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Create(_ context.Context, payment *models.PaymentEvent) error {
	if err := payment.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[payment.ID]; exists {
		return sentinel.ErrConflict
	}
	s.writes++
	cp := clone(payment)
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.payments[cp.ID] = cp
	return nil
}

func (s *InMemoryStore) Save(_ context.Context, payment *models.PaymentEvent) error {
	if err := payment.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[payment.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.writes++
	cp := clone(payment)
	cp.UpdatedAt = time.Now()
	s.payments[cp.ID] = cp
	return nil
}

func (s *InMemoryStore) ListNullStringIDs(_ context.Context) ([]id.PaymentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []id.PaymentID
	for pid, p := range s.payments {
		if p.HasNullStringField() {
			ids = append(ids, pid)
		}
	}
	return ids, nil
}

func (s *InMemoryStore) ListReceiptDueIDs(_ context.Context, now time.Time) ([]id.PaymentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-24 * time.Hour)
	var due []*models.PaymentEvent
	for _, p := range s.payments {
		recent := !p.InvoiceAt.Before(cutoff) && p.ReceiptSentAt == nil
		refund := p.AmountRefunded > 0 && p.RefundReceiptSentAt == nil && !p.Method.NonNotifiable()
		if recent || refund {
			due = append(due, p)
		}
	}
	// Stable selection order: oldest invoice first, so the sequential
	// dispatcher drains the backlog in the order it accrued.
	sort.Slice(due, func(i, j int) bool {
		return due[i].InvoiceAt.Before(due[j].InvoiceAt)
	})
	ids := make([]id.PaymentID, len(due))
	for i, p := range due {
		ids[i] = p.ID
	}
	return ids, nil
}

func (s *InMemoryStore) SetReceiptStamps(_ context.Context, paymentID id.PaymentID, stamps ports.ReceiptStamps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.writes++
	t := stamps.ReceiptSentAt
	p.ReceiptSentAt = &t
	if stamps.RefundReceiptSentAt != nil {
		rt := *stamps.RefundReceiptSentAt
		p.RefundReceiptSentAt = &rt
	}
	p.UpdatedAt = time.Now()
	return nil
}

// Writes reports the number of mutating calls; tests use it to assert that
// repair and resolution passes over clean data write nothing.
func (s *InMemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func clone(p *models.PaymentEvent) *models.PaymentEvent {
	cp := *p
	if p.ReceiptSentAt != nil {
		t := *p.ReceiptSentAt
		cp.ReceiptSentAt = &t
	}
	if p.RefundReceiptSentAt != nil {
		t := *p.RefundReceiptSentAt
		cp.RefundReceiptSentAt = &t
	}
	return &cp
}
