package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeConfiguration for configuration-related errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeValidation for validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNetwork for transport-level errors (retryable)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth for authentication/authorization errors
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeAPI for incident.io API errors
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeVault for document store errors
	ErrorTypeVault ErrorType = "vault"
	// ErrorTypeStorage for storage/persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeSync for sync orchestration errors
	ErrorTypeSync ErrorType = "sync"
)

// Well-known error codes used across the sync pipeline.
const (
	CodeNotFound           = "not_found"
	CodeMaxRetriesExceeded = "max_retries_exceeded"
	CodeRequestFailed      = "request_failed"
	CodeNoUserMatch        = "no_user_match"
	CodeSyncInProgress     = "sync_in_progress"
)

// SyncError represents a structured error with context
type SyncError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *SyncError) WithContext(key string, value interface{}) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *SyncError) WithCause(cause error) *SyncError {
	e.Cause = cause
	return e
}

// NewError creates a new SyncError
func NewError(errorType ErrorType, code, message string) *SyncError {
	return &SyncError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *SyncError {
	return NewError(ErrorTypeConfiguration, code, message)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *SyncError {
	return NewError(ErrorTypeValidation, code, message)
}

// NewNetworkError creates a network error
func NewNetworkError(code, message string) *SyncError {
	return NewError(ErrorTypeNetwork, code, message)
}

// NewAuthError creates an authentication error
func NewAuthError(code, message string) *SyncError {
	return NewError(ErrorTypeAuth, code, message)
}

// NewAPIError creates an incident.io API error
func NewAPIError(code, message string) *SyncError {
	return NewError(ErrorTypeAPI, code, message)
}

// NewVaultError creates a document store error
func NewVaultError(code, message string) *SyncError {
	return NewError(ErrorTypeVault, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *SyncError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewSyncError creates a sync orchestration error
func NewSyncError(code, message string) *SyncError {
	return NewError(ErrorTypeSync, code, message)
}

// WrapError wraps an existing error with SyncError context
func WrapError(err error, errorType ErrorType, code, message string) *SyncError {
	return &SyncError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// IsNotFound reports whether err is an API not-found error. Sub-resource
// fetches use this to tell "feature not enabled for this org" apart from
// real failures.
func IsNotFound(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == CodeNotFound
	}
	return false
}
