package billing

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrNoActivePayment  = errors.New("no successful payment found")
	ErrEventNotFound    = errors.New("webhook event not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError means the request contradicts existing state, e.g. the plan
// is already covered by an active payment.
type ConflictError struct {
	Reason        string
	TransactionID string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// GatewayError is returned when the gateway rejects or fails order creation.
// The payment identified by TransactionID has been marked failed.
type GatewayError struct {
	TransactionID string
	Err           error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway order creation failed for %s: %v", e.TransactionID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// RetryableError means the payment state could not be determined right now.
// The payment is still pending and verification can be repeated later.
type RetryableError struct {
	TransactionID string
	Err           error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("payment %s could not be verified: %v", e.TransactionID, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// TransactionIDFromError extracts the transaction id carried by billing errors.
func TransactionIDFromError(err error) string {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.TransactionID
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.TransactionID
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.TransactionID
	}
	return ""
}
