// Package ports declares the store and collaborator contracts the billing
// jobs consume. The document store, mail transport, and receipt renderer are
// all external collaborators; jobs only ever see these interfaces.
package ports

import (
	"context"
	"time"

	"ledgerd/internal/billing/models"
	id "ledgerd/pkg/domain"
)

// UserQuery filters ListIDs. Zero value matches every user.
type UserQuery struct {
	// PaidOnly restricts to users whose plan is not the free sentinel.
	PaidOnly bool
	// RequireVerifiedEmail restricts to users with a verified address.
	RequireVerifiedEmail bool
	// ExcludeBanned drops banned accounts.
	ExcludeBanned bool
}

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	// Save persists the full record. Derived fields (plan expiry) are
	// recomputed as a side effect of the save path.
	Save(ctx context.Context, user *models.User) error
	// ListIDs enumerates user IDs matching the query. Order is unspecified.
	ListIDs(ctx context.Context, q UserQuery) ([]id.UserID, error)
}

// ReceiptStamps carries the delivery timestamps the receipt job persists
// after a successful send. RefundReceiptSentAt is staged only for refunded
// payments.
type ReceiptStamps struct {
	ReceiptSentAt       time.Time
	RefundReceiptSentAt *time.Time
}

type PaymentStore interface {
	FindByID(ctx context.Context, paymentID id.PaymentID) (*models.PaymentEvent, error)
	// ListByUserDesc returns all of a user's ledger entries sorted by
	// invoice timestamp descending (newest first).
	ListByUserDesc(ctx context.Context, userID id.UserID) ([]*models.PaymentEvent, error)
	CountByUser(ctx context.Context, userID id.UserID) (int, error)
	Create(ctx context.Context, payment *models.PaymentEvent) error
	// Save persists the full record; used by repair after normalizing
	// field encodings.
	Save(ctx context.Context, payment *models.PaymentEvent) error
	// ListNullStringIDs selects payments where any repair-eligible string
	// field carries an explicit-null encoding (logical OR across the
	// declared field list).
	ListNullStringIDs(ctx context.Context) ([]id.PaymentID, error)
	// ListReceiptDueIDs selects payments needing a receipt or refund
	// notice: invoiced within 24h of now with no receipt stamp, or
	// refunded with no refund stamp and a notifiable method.
	ListReceiptDueIDs(ctx context.Context, now time.Time) ([]id.PaymentID, error)
	// SetReceiptStamps updates only the delivery-stamp fields, atomically,
	// so concurrent writers of other fields are never clobbered.
	SetReceiptStamps(ctx context.Context, paymentID id.PaymentID, stamps ReceiptStamps) error
}

// Attachment is a rendered artifact included with a notification.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is the outbound notification envelope.
type Message struct {
	Template    string
	To          string
	CC          string
	BCC         string
	Attachments []Attachment
	// Locals carries template data (user, payment, inline receipt HTML).
	Locals map[string]any
}

// Mailer sends a notification. No retry happens here: a failed send leaves
// the ledger entry unstamped, so the next batch run retries naturally.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ReceiptRenderer renders the receipt template twice per dispatch: once as
// inline HTML for the message body and once as attachment bytes.
type ReceiptRenderer interface {
	RenderHTML(ctx context.Context, payment *models.PaymentEvent, user *models.User, locale string) (string, error)
	RenderAttachment(ctx context.Context, payment *models.PaymentEvent, user *models.User, locale string) ([]byte, error)
}
