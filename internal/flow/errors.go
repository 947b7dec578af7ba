package flow

import (
	"fmt"
	"time"
)

// ErrorKind classifies flow failures so handlers can map them to stable
// response codes without string matching.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindRateLimited         ErrorKind = "rate_limited"
	KindCodeExpired         ErrorKind = "code_expired"
	KindInvalidCode         ErrorKind = "invalid_code"
	KindAttemptsExceeded    ErrorKind = "attempts_exceeded"
	KindAccountLocked       ErrorKind = "account_locked"
	KindUnderage            ErrorKind = "underage"
	KindDuplicateEmail      ErrorKind = "duplicate_email"
	KindDuplicateUsername   ErrorKind = "duplicate_username"
	KindEmailDeliveryFailed ErrorKind = "email_delivery_failed"
	KindStepOrder           ErrorKind = "step_order"
)

// Error is a step-local flow failure. Validation errors name the offending
// field; rate-limit and lockout errors carry the remaining wait.
type Error struct {
	Kind       ErrorKind
	Field      string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func validationErr(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func rateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "please wait before requesting another code",
		RetryAfter: retryAfter,
	}
}

func stepOrderErr(have, want Step) *Error {
	return &Error{
		Kind:    KindStepOrder,
		Message: fmt.Sprintf("flow is at step %q, not %q", have, want),
	}
}
