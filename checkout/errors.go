package checkout

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
)

// ValidationError is returned for requests that must never reach the
// payment processor.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrEmptyCart is returned when checkout is attempted without items.
var ErrEmptyCart = &ValidationError{Code: "empty_cart", Message: "Cart is empty"}

// ErrInvalidItems is returned when the items list contains entries that are
// not cart items.
var ErrInvalidItems = &ValidationError{Code: "invalid_items", Message: "Cart contains invalid items"}

// ErrCartTooLarge is returned when the order summary cannot be attached to
// the session.
var ErrCartTooLarge = &ValidationError{Code: "cart_too_large", Message: "Cart has too many items to check out"}

// SessionError wraps a failure reported while creating the processor session.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("failed to create checkout session: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

const failureMessage = "Failed to create checkout session"

// Failure is the body returned to the shopper when checkout cannot start.
type Failure struct {
	Error   string          `json:"error"`
	Details *FailureDetails `json:"details,omitempty"`
}

type FailureDetails struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewFailure describes err for the shopper. Diagnostic details are attached
// only when withDetails is set.
func NewFailure(err error, withDetails bool) Failure {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return Failure{Error: verr.Message}
	}

	f := Failure{Error: failureMessage}
	if !withDetails {
		return f
	}

	details := &FailureDetails{Type: "api_error", Message: err.Error()}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		details.Type = string(stripeErr.Type)
		details.Message = stripeErr.Msg
	} else if errors.Is(err, errTimeout) {
		details.Type = "timeout"
	}
	f.Details = details
	return f
}
