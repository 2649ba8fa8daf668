// Package services implements the messaging agent's pipelines: outbound
// sends (scheduled jobs and send-now), batch triggers, and the inbound
// webhook flow. This file centralizes the service-level error values.
//
// Translation into HTTP status codes happens in the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/quota"
)

var (
	// ErrInvalidInput is returned when a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is the root of every missing-record error.
	ErrNotFound = errors.New("not found")

	ErrClientNotFound      = fmt.Errorf("client %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrLogEntryNotFound    = fmt.Errorf("message %w", ErrNotFound)

	// ErrNoTemplate is returned when no template resolves for a send.
	ErrNoTemplate = fmt.Errorf("template %w", ErrNotFound)

	// ErrAgentDisabled is returned when the tenant's policy forbids sending.
	ErrAgentDisabled = errors.New("agent disabled for tenant")

	// ErrQuotaExceeded is wrapped by QuotaError.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrDuplicate is wrapped by DuplicateError.
	ErrDuplicate = errors.New("duplicate action")

	// ErrProvider wraps failures of the delivery provider.
	ErrProvider = errors.New("provider error")

	// ErrInvalidLocale is returned for a locale that is not a BCP 47 tag.
	ErrInvalidLocale = errors.New("invalid locale")

	// ErrEmptyMessage is returned when composition yields no text.
	ErrEmptyMessage = errors.New("composed message is empty")
)

// QuotaError is a quota refusal carrying the decision.
type QuotaError struct {
	Decision quota.Decision
}

func (e *QuotaError) Error() string { return "quota exceeded: " + e.Decision.Reason }
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// DuplicateError carries the result of the original action.
type DuplicateError struct {
	Existing *idempotency.Result
}

func (e *DuplicateError) Error() string { return ErrDuplicate.Error() }
func (e *DuplicateError) Unwrap() error { return ErrDuplicate }
