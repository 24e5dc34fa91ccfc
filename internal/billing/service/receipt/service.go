// Package receipt dispatches receipt and refund-receipt notifications for
// ledger entries and records delivery so repeat runs are no-ops. Dispatch is
// best-effort exactly-once: a failed send leaves the entry unstamped and the
// next scheduled run retries it.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/publisher"
	"ledgerd/pkg/platform/sentinel"
)

// Template is the notification template every receipt send uses.
const Template = "payment"

type Service struct {
	payments ports.PaymentStore
	users    ports.UserStore
	mailer   ports.Mailer
	renderer ports.ReceiptRenderer

	// systemAddress receives BCC copies of conversion and refund receipts.
	systemAddress string

	logger *slog.Logger
	events *publisher.Publisher
	now    func() time.Time
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

func New(
	payments ports.PaymentStore,
	users ports.UserStore,
	mailer ports.Mailer,
	renderer ports.ReceiptRenderer,
	systemAddress string,
	opts ...Option,
) (*Service, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	svc := &Service{
		payments:      payments,
		users:         users,
		mailer:        mailer,
		renderer:      renderer,
		systemAddress: systemAddress,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Candidates selects payments due a receipt or refund notice. Order matters:
// the runner processes these strictly sequentially, in selection order.
func (s *Service) Candidates(ctx context.Context) ([]id.PaymentID, error) {
	ids, err := s.payments.ListReceiptDueIDs(ctx, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list due receipts")
	}
	return ids, nil
}

// Dispatch renders and sends the receipt for one payment, then stamps
// delivery. Returns true when a notification was sent; ineligible
// recipients and already-stamped entries are silent skips.
func (s *Service) Dispatch(ctx context.Context, paymentID id.PaymentID) (bool, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.Wrap(err, dErrors.CodeNotFound, "payment does not exist")
		}
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load payment")
	}

	// Re-check between selection and processing: an earlier item in this
	// run, or an overlapping run, may have stamped it already.
	if payment.Refunded() && payment.RefundReceiptSentAt != nil {
		s.logger.Info("refund receipt already sent", "payment", paymentID.String())
		return false, nil
	}
	if !payment.Refunded() && payment.ReceiptSentAt != nil {
		s.logger.Info("receipt already sent", "payment", paymentID.String())
		return false, nil
	}

	user, err := s.users.FindByID(ctx, payment.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.Info("user does not exist", "payment", paymentID.String())
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load user")
	}
	if !user.CanReceiveEmail() {
		// Banned or unverified: skip silently, not an error.
		return false, nil
	}

	// Transient: templates localize off the payment record.
	locale := user.LocaleOrDefault()
	payment.Locale = locale

	// Both artifacts come from the same template; the send needs both, so
	// either failure aborts this item.
	var receiptHTML string
	var attachment []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		html, err := s.renderer.RenderHTML(gctx, payment, user, locale)
		if err != nil {
			return fmt.Errorf("render inline receipt: %w", err)
		}
		receiptHTML = html
		return nil
	})
	g.Go(func() error {
		content, err := s.renderer.RenderAttachment(gctx, payment, user, locale)
		if err != nil {
			return fmt.Errorf("render attachment: %w", err)
		}
		attachment = content
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "render receipt")
	}

	filename := fmt.Sprintf("%s-%s.pdf",
		payment.InvoiceAt.Format("2006-01-02"), payment.Reference)

	stamps := ports.ReceiptStamps{ReceiptSentAt: s.now()}

	var bcc string
	switch {
	case payment.Method == models.MethodPlanConversion:
		bcc = s.systemAddress
	case payment.Refunded():
		bcc = s.systemAddress
		// Refunded payments stage the refund stamp alongside the receipt
		// stamp, even when the 24-hour criterion is what selected them.
		refundAt := stamps.ReceiptSentAt
		stamps.RefundReceiptSentAt = &refundAt
	}

	msg := ports.Message{
		Template: Template,
		To:       user.ReceiptRecipient(),
		BCC:      bcc,
		Attachments: []ports.Attachment{
			{Filename: filename, Content: attachment},
		},
		Locals: map[string]any{
			"user":        user,
			"payment":     payment,
			"receiptHTML": receiptHTML,
		},
	}
	if user.ReceiptEmail != "" {
		msg.CC = user.Email
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		// No stamp persists on failure; the next run retries.
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "send receipt")
	}

	if err := s.payments.SetReceiptStamps(ctx, paymentID, stamps); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "stamp receipt")
	}

	action := events.ActionReceiptSent
	if stamps.RefundReceiptSentAt != nil {
		action = events.ActionRefundReceiptSent
	}
	s.emit(ctx, action, payment.UserID, paymentID, filename)
	return true, nil
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
