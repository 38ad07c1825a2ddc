package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by repositories when an optimistic
	// write lost the race against a concurrent placement. Callers re-read
	// and re-validate against the committed state.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyProcessed is returned when a closing claim finds the bid
	// already taken by another run.
	ErrAlreadyProcessed = errors.New("already processed")
)

// ValidationError marks malformed user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

type PreconditionCode string

const (
	CodeBiddingClosed     PreconditionCode = "bidding_closed"
	CodeSelfBid           PreconditionCode = "self_bid"
	CodeBelowMinimum      PreconditionCode = "below_minimum"
	CodeInvalidTransition PreconditionCode = "invalid_transition"
	CodeNotOwner          PreconditionCode = "not_owner"
)

// PreconditionError marks a business-rule violation the caller can correct.
// BelowMinimum errors carry the freshly computed minimum so clients can retry
// without guessing.
type PreconditionError struct {
	Code       PreconditionCode
	Message    string
	MinimumBid *decimal.Decimal
}

func (e *PreconditionError) Error() string {
	if e.MinimumBid != nil {
		return fmt.Sprintf("%s: %s (minimum %s)", e.Code, e.Message, e.MinimumBid.StringFixed(2))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// BelowMinimum builds the rejection for an offer under the required minimum.
func BelowMinimum(minimum decimal.Decimal) *PreconditionError {
	return &PreconditionError{
		Code:       CodeBelowMinimum,
		Message:    "bid amount is below the required minimum",
		MinimumBid: &minimum,
	}
}

// Precondition builds a business-rule violation without a minimum attached.
func Precondition(code PreconditionCode, message string) *PreconditionError {
	return &PreconditionError{Code: code, Message: message}
}

// IsPrecondition reports whether err is a business-rule violation and, if so,
// returns it.
func IsPrecondition(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsValidation reports whether err is malformed-input.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
