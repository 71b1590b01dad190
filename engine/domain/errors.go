package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds shared across stages.
var (
	ErrTransient    = errors.New("transient external failure")
	ErrRateLimited  = errors.New("rate limited")
	ErrCredential   = errors.New("credential failure")
	ErrMalformed    = errors.New("malformed response")
	ErrMissingActor = errors.New("classification missing actor")
	ErrUnknownActor = errors.New("classification has unknown actor")
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid input")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// MalformedError describes a response that failed shape validation.
type MalformedError struct {
	What   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.What, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Malformed returns a MalformedError for what with a formatted reason.
func Malformed(what, format string, args ...any) error {
	return &MalformedError{What: what, Reason: fmt.Sprintf(format, args...)}
}

// CredentialError is a rejected or failed token exchange.
type CredentialError struct {
	TenantID string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("credential: %v", e.Err)
	}
	return fmt.Sprintf("credential for tenant %s: %v", e.TenantID, e.Err)
}

func (e *CredentialError) Unwrap() []error { return []error{ErrCredential, e.Err} }

// Kind buckets an error for counters and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrMissingActor), errors.Is(err, ErrUnknownActor), errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
