package models

import (
	"time"

	id "ledgerd/pkg/domain"
)

// User is the billing view of an account.
//
// Invariants:
//   - Email is non-empty.
//   - Plan is a valid enum value; PlanFree means no paid entitlement.
//   - PlanSetAt equals the invoice timestamp of the oldest contiguous run of
//     ledger events matching Plan (maintained by the plan-set-at job).
//   - PlanExpiresAt is derived from the ledger; it is recomputed by the user
//     store's save path, never written directly by jobs.
type User struct {
	ID    id.UserID `json:"id"`
	Email string    `json:"email"`
	// ReceiptEmail, when set, overrides Email as the receipt recipient; the
	// primary address is CC'd instead.
	ReceiptEmail string `json:"receipt_email,omitempty"`

	Plan          Plan       `json:"plan"`
	PlanSetAt     time.Time  `json:"plan_set_at"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`

	HasVerifiedEmail bool   `json:"has_verified_email"`
	IsBanned         bool   `json:"is_banned"`
	Locale           string `json:"locale"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReceiptRecipient returns the address receipts go to.
func (u *User) ReceiptRecipient() string {
	if u.ReceiptEmail != "" {
		return u.ReceiptEmail
	}
	return u.Email
}

// CanReceiveEmail gates all outbound notifications: banned accounts and
// unverified addresses are silently skipped, never treated as errors.
func (u *User) CanReceiveEmail() bool {
	return !u.IsBanned && u.HasVerifiedEmail
}

// LocaleOrDefault falls back to English when the account never recorded a
// locale.
func (u *User) LocaleOrDefault() string {
	if u.Locale == "" {
		return "en"
	}
	return u.Locale
}
