package domain

import (
	"github.com/google/uuid"

	dErrors "ledgerd/pkg/domain-errors"
)

// Typed UUID wrappers for the two entity families this system touches.
// The compiler keeps a UserID from ever being passed where a PaymentID is
// expected; Parse* constructors enforce validity at trust boundaries.

type UserID uuid.UUID

type PaymentID uuid.UUID

// NewUserID returns a fresh random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewPaymentID returns a fresh random PaymentID.
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

// ParseUserID constructs a UserID from external input.
// Rejects empty, malformed, and nil UUIDs.
func ParseUserID(s string) (UserID, error) {
	u, err := parse(s)
	return UserID(u), err
}

// ParsePaymentID constructs a PaymentID from external input.
// Rejects empty, malformed, and nil UUIDs.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := parse(s)
	return PaymentID(u), err
}

func parse(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be nil")
	}
	return u, nil
}

func (id UserID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id PaymentID) String() string { return uuid.UUID(id).String() }

func (id PaymentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
