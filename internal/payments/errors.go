package payments

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every entry point. HTTP handlers map these once at the boundary.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyProcessed     = errors.New("payment already processed")
	ErrAmountMismatch       = errors.New("paid amount does not match payment")
	ErrIdentityMismatch     = errors.New("payer identity does not match user")
	ErrTransaction          = errors.New("transaction failed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrMinimumUsageNotMet   = errors.New("minimum usage not met")
	ErrMinimumDepositNotMet = errors.New("minimum deposit not met")
)

// ValidationError reports caller input that is missing or malformed.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Reason, strings.Join(e.Fields, ", "))
}

// UpstreamError reports an unusable PSP or messaging response.
type UpstreamError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream error (status=%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream error (status=%d): %s", e.StatusCode, e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func invalid(reason string, fields ...string) *ValidationError {
	return &ValidationError{Fields: fields, Reason: reason}
}
