package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates a missing record
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates ordering or uniqueness conflicts, e.g. a sort key
	// that does not advance past the contract's last one
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeLockTimeout indicates the distributed contract lock was not obtained in time
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// ErrCodeDatabase indicates database operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeNetwork indicates network-related errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeRateLimited indicates the upstream asked us to back off
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeUpstream indicates a non-success or malformed upstream response
	ErrCodeUpstream ErrorCode = "UPSTREAM"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// GatewayError is the single error shape surfaced by gateway components.
type GatewayError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a new GatewayError
func New(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Code:     code,
		Message:  message,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Newf creates a GatewayError without a cause from a format string
func Newf(code ErrorCode, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *GatewayError) WithSeverity(severity Severity) *GatewayError {
	e.Severity = severity
	return e
}

// Status is the HTTP status callers see for this error.
func (e *GatewayError) Status() int {
	return StatusForCode(e.Code)
}

// IsRetryable returns true if the error is retryable
func (e *GatewayError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	case ErrCodeDatabase:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

// StatusForCode maps every error code to an HTTP status.
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeLockTimeout:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeNetwork, ErrCodeUpstream:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// determineSeverity determines the default severity based on error code
func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeConflict:
		return SeverityHigh
	case ErrCodeLockTimeout, ErrCodeNetwork, ErrCodeUpstream, ErrCodeTimeout:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeConfig, ErrCodeNotFound, ErrCodeRateLimited:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(message string) *GatewayError {
	return New(ErrCodeValidation, message, nil)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *GatewayError {
	return New(ErrCodeConflict, message, nil)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *GatewayError {
	return New(ErrCodeDatabase, message, cause)
}

// NewNetworkError creates a network error
func NewNetworkError(message string, cause error) *GatewayError {
	return New(ErrCodeNetwork, message, cause)
}

// NewUpstreamError creates an upstream error
func NewUpstreamError(message string) *GatewayError {
	return New(ErrCodeUpstream, message, nil)
}

// NewLockTimeoutError creates a lock timeout error
func NewLockTimeoutError(message string, cause error) *GatewayError {
	return New(ErrCodeLockTimeout, message, cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *GatewayError {
	return New(ErrCodeInternal, message, cause)
}
