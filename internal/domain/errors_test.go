package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	reset := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		err       error
		want      ErrorKind
		retriable bool
	}{
		{"validation", NewValidationError("amount", "-5", "must not be negative"), KindValidation, false},
		{"wrapped validation", fmt.Errorf("draft 3: %w", NewValidationError("phone", "", "bad")), KindValidation, false},
		{"quota", &QuotaExceededError{TenantID: "t", Capability: CapabilityAI, Limit: 10, ResetAt: reset}, KindQuotaExceeded, true},
		{"timeout type", &TimeoutError{Operation: "extract", Budget: time.Second}, KindTimeout, true},
		{"deadline exceeded", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout, true},
		{"capability", &CapabilityUnavailableError{Capability: CapabilityOCR, Reason: "not configured"}, KindCapabilityUnavailable, true},
		{"not found", &NotFoundError{Resource: "job", ID: "x"}, KindNotFound, false},
		{"anything else", errors.New("disk on fire"), KindInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
			assert.Equal(t, tt.retriable, IsRetriable(tt.err))
		})
	}
}

func TestKindOf_Nil(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestCapabilityUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &CapabilityUnavailableError{Capability: CapabilityAI, Reason: "call failed", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestValidationError_Message(t *testing.T) {
	assert.Equal(t, `invalid amount "abc": not a number`, NewValidationError("amount", "abc", "not a number").Error())
	assert.Equal(t, "invalid tenant_id: required", NewValidationError("tenant_id", "", "required").Error())
}
