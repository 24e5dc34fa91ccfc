// Package domainerrors provides coded errors for the billing domain.
//
// Services return these so callers (the batch runner, the ops surface) can
// branch on the class of failure without string matching. Stores return
// sentinel errors from pkg/platform/sentinel; services translate them here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeNotFound: the referenced entity no longer resolves.
	CodeNotFound Code = "not_found"
	// CodeInvalidInput: caller-supplied value failed validation.
	CodeInvalidInput Code = "invalid_input"
	// CodeInvariantViolation: stored state contradicts a domain invariant
	// (e.g. plan history present but no matching prefix).
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable: a collaborator (store, transport, renderer) failed.
	CodeUnavailable Code = "unavailable"
	// CodeInternal: unexpected failure with no better classification.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Construct via New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
