package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Session pool
	ErrCodeAllSessionsExhausted ErrorCode = "ALL_SESSIONS_EXHAUSTED"
	ErrCodeVerificationFailed   ErrorCode = "VERIFICATION_FAILED"

	// Upstream
	ErrCodeUpstreamTimeout         ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamConnection      ErrorCode = "UPSTREAM_CONNECTION_ERROR"
	ErrCodeUpstreamContentRejected ErrorCode = "UPSTREAM_CONTENT_REJECTED"
	ErrCodeUpstreamRejected        ErrorCode = "UPSTREAM_REJECTED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeStore    ErrorCode = "STORE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AllSessionsExhausted() *AppError {
	return New(ErrCodeAllSessionsExhausted, "No eligible session available")
}

func VerificationFailed(reason string) *AppError {
	return New(ErrCodeVerificationFailed, fmt.Sprintf("Session verification failed: %s", reason))
}

func UpstreamTimeout() *AppError {
	return New(ErrCodeUpstreamTimeout, "Upstream generation timed out")
}

func UpstreamConnection(cause error) *AppError {
	return Wrap(ErrCodeUpstreamConnection, "Upstream connection failed", cause)
}

func UpstreamContentRejected(reason string) *AppError {
	return New(ErrCodeUpstreamContentRejected, fmt.Sprintf("Content rejected by upstream: %s", reason))
}

// UpstreamRejected covers upstream quota/ban signals attributable to the
// session itself (rate_limit_exceeded, unauthorized).
func UpstreamRejected(reason string) *AppError {
	return New(ErrCodeUpstreamRejected, fmt.Sprintf("Upstream rejected session: %s", reason))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Store(cause error) *AppError {
	return Wrap(ErrCodeStore, "Credential store error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the pool may retry the job on a different
// session after seeing this error.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamConnection, ErrCodeUpstreamRejected, ErrCodeVerificationFailed:
		return true
	}
	return false
}
