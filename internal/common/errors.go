package common

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; richer typed errors
// (GuardError, DecisionError, ValidationError) wrap one of these.
var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")

	// Lifecycle and workflow errors.
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrOutOfOrderDecision = errors.New("out of order decision")

	// Provider adapter errors.
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrProviderUnavailable = errors.New("provider unavailable")

	// Signing errors.
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrStaleWebhook     = errors.New("stale webhook")

	// Input errors.
	ErrValidation = errors.New("validation error")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError describes malformed input at a boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
