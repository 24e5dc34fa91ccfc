package models

import (
	"fmt"
	"time"

	id "ledgerd/pkg/domain"
	dErrors "ledgerd/pkg/domain-errors"
)

// Method is how a ledger entry was captured.
type Method string

const (
	MethodCreditCard      Method = "credit_card"
	MethodPayPal          Method = "paypal"
	MethodFreeBetaProgram Method = "free_beta_program"
	MethodPlanConversion  Method = "plan_conversion"
)

// NonNotifiable reports whether the method is excluded from refund-receipt
// selection. Beta credits and plan conversions never carried real money, so
// their refunds are bookkeeping, not something to email a customer about.
func (m Method) NonNotifiable() bool {
	return m == MethodFreeBetaProgram || m == MethodPlanConversion
}

// Kind distinguishes one-off charges from recurring subscription cycles.
type Kind string

const (
	KindOneTime      Kind = "one-time"
	KindSubscription Kind = "subscription"
)

// PaymentEvent is one append-only ledger entry. Entries are created by
// billing capture or synthesized by the benefit-credit job; repair may
// normalize field encodings and the receipt job stamps delivery timestamps,
// but amounts, dates, and plan values are immutable once written.
type PaymentEvent struct {
	ID     id.PaymentID `json:"id"`
	UserID id.UserID    `json:"user_id"`

	// Reference is the short human-facing payment reference printed on
	// receipts and used in attachment filenames.
	Reference string `json:"reference"`

	// Amounts are in cents. 0 <= AmountRefunded <= Amount.
	Amount         int64 `json:"amount"`
	AmountRefunded int64 `json:"amount_refunded"`

	InvoiceAt time.Time     `json:"invoice_at"`
	Method    Method        `json:"method"`
	Plan      Plan          `json:"plan"`
	Duration  time.Duration `json:"duration"`
	Kind      Kind          `json:"kind"`

	ReceiptSentAt       *time.Time `json:"receipt_sent_at,omitempty"`
	RefundReceiptSentAt *time.Time `json:"refund_receipt_sent_at,omitempty"`

	// Optional provider bookkeeping. These are the only string fields the
	// document layer has historically written explicit nulls into; see
	// RepairableStringFields.
	ProviderPaymentID  NullableString `json:"provider_payment_id,omitzero"`
	ProviderCustomerID NullableString `json:"provider_customer_id,omitzero"`
	ReceiptNumber      NullableString `json:"receipt_number,omitzero"`
	Notes              NullableString `json:"notes,omitzero"`

	// Locale is transient: attached at dispatch time for templating, never
	// persisted on the canonical record.
	Locale string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the ledger-entry invariants on write.
func (p *PaymentEvent) Validate() error {
	if p.UserID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "payment must reference a user")
	}
	if p.Amount < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be non-negative")
	}
	if p.AmountRefunded < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount_refunded must be non-negative")
	}
	if p.AmountRefunded > p.Amount {
		return dErrors.New(dErrors.CodeInvalidInput, "amount_refunded cannot exceed amount")
	}
	if !p.Plan.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown plan")
	}
	return nil
}

// Description is derived, never stored: the line-item text receipts show.
func (p *PaymentEvent) Description() string {
	months := int(p.Duration / (30 * 24 * time.Hour))
	if months <= 0 {
		months = 1
	}
	return fmt.Sprintf("%s (%d mo)", p.Plan, months)
}

// Refunded reports whether any portion of the payment was refunded.
func (p *PaymentEvent) Refunded() bool { return p.AmountRefunded > 0 }

// RepairField names one repair-eligible string field together with its
// accessor. The list is declared statically; the repair job must never
// discover fields by reflection.
type RepairField struct {
	Name string
	Get  func(*PaymentEvent) *NullableString
}

// RepairableStringFields is the authoritative list of string-typed payment
// fields the repair job scans for explicit-null encodings.
var RepairableStringFields = []RepairField{
	{"provider_payment_id", func(p *PaymentEvent) *NullableString { return &p.ProviderPaymentID }},
	{"provider_customer_id", func(p *PaymentEvent) *NullableString { return &p.ProviderCustomerID }},
	{"receipt_number", func(p *PaymentEvent) *NullableString { return &p.ReceiptNumber }},
	{"notes", func(p *PaymentEvent) *NullableString { return &p.Notes }},
}

// HasNullStringField reports whether any repair-eligible field carries the
// explicit-null encoding.
func (p *PaymentEvent) HasNullStringField() bool {
	for _, f := range RepairableStringFields {
		if f.Get(p).IsExplicitNull() {
			return true
		}
	}
	return false
}
