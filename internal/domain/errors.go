package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the machine-readable classification of a failure that is
// reported back to callers.
type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindCapabilityUnavailable ErrorKind = "capability_unavailable"
	KindTimeout               ErrorKind = "timeout"
	KindQuotaExceeded         ErrorKind = "quota_exceeded"
	KindNotFound              ErrorKind = "not_found"
	KindInternal              ErrorKind = "internal"
	// KindCancelled only appears on job records cancelled by their owner.
	KindCancelled ErrorKind = "cancelled"
)

// Capability names shared by the quota manager and the extractor.
const (
	CapabilityAI  = "ai"
	CapabilityOCR = "ocr"
)

// ValidationError rejects a single record or request parameter.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// CapabilityUnavailableError means an optional capability (AI, OCR) could
// not be used. Callers with a fallback path take it instead of failing.
type CapabilityUnavailableError struct {
	Capability string
	Reason     string
	ResetAt    *time.Time
	Err        error
}

func (e *CapabilityUnavailableError) Error() string {
	msg := fmt.Sprintf("capability %s unavailable: %s", e.Capability, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CapabilityUnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError means an operation exceeded its time budget.
type TimeoutError struct {
	Operation string
	Budget    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget", e.Operation, e.Budget)
}

// QuotaExceededError carries the time at which the caller may try again.
type QuotaExceededError struct {
	TenantID   string
	Capability string
	Limit      int
	ResetAt    time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (limit %d), resets at %s",
		e.Capability, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// NotFoundError is returned when a tenant-scoped resource does not exist.
// A resource owned by another tenant is reported the same way.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// KindOf classifies err into the closed ErrorKind set.
func KindOf(err error) ErrorKind {
	var (
		validationErr *ValidationError
		capabilityErr *CapabilityUnavailableError
		timeoutErr    *TimeoutError
		quotaErr      *QuotaExceededError
		notFoundErr   *NotFoundError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &quotaErr):
		return KindQuotaExceeded
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &capabilityErr):
		return KindCapabilityUnavailable
	case errors.As(err, &notFoundErr):
		return KindNotFound
	default:
		return KindInternal
	}
}

// IsRetriable reports whether repeating the same request later may succeed.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindQuotaExceeded, KindCapabilityUnavailable, KindInternal:
		return true
	default:
		return false
	}
}
