// Package errors provides standardized error handling for the billing engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Pre-flight checks that fail before any external call. Zero side effects.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// External provider call failed or returned an error payload.
	ErrCodeProviderCallFailed ErrorCode = "PROVIDER_CALL_FAILED"

	// Local write failed after a successful provider call.
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"

	// Expected business condition requiring operator action, not a fault.
	ErrCodeOperatorActionRequired ErrorCode = "OPERATOR_ACTION_REQUIRED"

	// A ProviderPayment already exists for the current billing period.
	ErrCodeDuplicateCharge ErrorCode = "DUPLICATE_CHARGE"

	ErrCodeQueryExecutionFailed ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeNotificationFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// Sentinels usable with errors.Is across package boundaries.
var (
	ErrValidationFailed       = errors.New("VALIDATION_FAILED")
	ErrProviderCallFailed     = errors.New("PROVIDER_CALL_FAILED")
	ErrPersistenceFailed      = errors.New("PERSISTENCE_FAILED")
	ErrOperatorActionRequired = errors.New("OPERATOR_ACTION_REQUIRED")
	ErrDuplicateCharge        = errors.New("DUPLICATE_CHARGE")
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is maps StandardError codes onto the package sentinels.
func (e *StandardError) Is(target error) bool {
	switch target {
	case ErrValidationFailed:
		return e.Code == ErrCodeValidationFailed
	case ErrProviderCallFailed:
		return e.Code == ErrCodeProviderCallFailed
	case ErrPersistenceFailed:
		return e.Code == ErrCodePersistenceFailed
	case ErrOperatorActionRequired:
		return e.Code == ErrCodeOperatorActionRequired
	case ErrDuplicateCharge:
		return e.Code == ErrCodeDuplicateCharge
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable pre-flight validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed before provider call",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderError wraps a failed provider call with its structured failure
// payload. Always carries code/type/details so nothing is swallowed.
func NewProviderError(operation string, err error, failure map[string]interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderCallFailed,
		Message:   fmt.Sprintf("Provider call failed: %s", operation),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  failure,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceError creates a retryable local-write error.
func NewPersistenceError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   fmt.Sprintf("Local write failed: %s", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOperatorActionRequired reports an expected business condition as a
// structured failure reason rather than a fault.
func NewOperatorActionRequired(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOperatorActionRequired,
		Message:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateChargeError rejects a second charge inside one billing period.
func NewDuplicateChargeError(subscriptionID int64, periodEnd string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateCharge,
		Message:   "Payment already exists for current billing period",
		Details:   fmt.Sprintf("subscriptionId: %d, periodEnd: %s", subscriptionID, periodEnd),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("query: %s, error: %s", queryName, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationFailedError records an email dispatch failure. Never fatal to
// the run that triggered it.
func NewNotificationFailedError(recipient string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification dispatch failed",
		Details:   fmt.Sprintf("recipient: %s, error: %s", recipient, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
