// Package events records the billing facts the reconciliation jobs produce:
// plan flips, synthesized benefit credits, ledger repairs, and receipt
// sends. Sinks are pluggable; the memory store serves tests and dev runs,
// the Kafka sink feeds downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "ledgerd/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionPlanChanged       Action = "plan_changed"
	ActionPlanSetAtFixed    Action = "plan_set_at_fixed"
	ActionBenefitCredit     Action = "benefit_credit_created"
	ActionPaymentRepaired   Action = "payment_repaired"
	ActionReceiptSent       Action = "receipt_sent"
	ActionRefundReceiptSent Action = "refund_receipt_sent"
)

// Event is one recorded billing fact.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	Action    Action       `json:"action"`
	UserID    id.UserID    `json:"user_id"`
	PaymentID id.PaymentID `json:"payment_id,omitempty"`
	At        time.Time    `json:"at"`
	Detail    string       `json:"detail,omitempty"`
}

// Store is an append-only event sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}
