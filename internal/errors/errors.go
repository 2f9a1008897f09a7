// Package errors provides standardized domain errors with codes for the Podium API.
//
// Usage:
//
//	// In pipeline components - return typed errors
//	if replayed {
//	    return errors.Integrity("nonce already used")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrRateLimited) {
//	    response.TooManyRequests(w, err.Error(), retryAfter, logger)
//	    return
//	}
//
//	// Or use the Code directly for switch statements
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeSuspended:
//	        response.Forbidden(w, domainErr.Message, logger)
//	    case errors.CodeIntegrity:
//	        response.BadRequest(w, domainErr.Message, logger)
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
//
// The action pipeline codes mirror the rejection categories returned to
// clients: credentials, integrity, admission, validation, anomaly,
// suspension, and transient storage failures.
const (
	CodeAuth        Code = "AUTH_ERROR"
	CodeIntegrity   Code = "INTEGRITY_ERROR"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeAnomaly     Code = "ANOMALY_REJECTED"
	CodeSuspended   Code = "SUSPENDED"
	CodeTransient   Code = "TRANSIENT_ERROR"

	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeForbidden     Code = "FORBIDDEN"
	CodeInternal      Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeIntegrity:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAnomaly:
		return http.StatusUnprocessableEntity
	case CodeSuspended, CodeForbidden:
		return http.StatusForbidden
	case CodeTransient:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrAuth        = &Error{Code: CodeAuth, Message: "invalid or expired credential"}
	ErrIntegrity   = &Error{Code: CodeIntegrity, Message: "integrity check failed"}
	ErrRateLimited = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrValidation  = &Error{Code: CodeValidation, Message: "validation error"}
	ErrAnomaly     = &Error{Code: CodeAnomaly, Message: "action rejected by anomaly detection"}
	ErrSuspended   = &Error{Code: CodeSuspended, Message: "account suspended"}
	ErrTransient   = &Error{Code: CodeTransient, Message: "temporary failure, retry"}

	ErrNotFound      = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrForbidden     = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrInternal      = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// Auth creates a credential error.
func Auth(msg string) *Error {
	return &Error{Code: CodeAuth, Message: msg}
}

// Authf creates a credential error with formatted message.
func Authf(format string, args ...any) *Error {
	return &Error{Code: CodeAuth, Message: fmt.Sprintf(format, args...)}
}

// Integrity creates an integrity error (bad signature, replay, out-of-order timestamp).
func Integrity(msg string) *Error {
	return &Error{Code: CodeIntegrity, Message: msg}
}

// Integrityf creates an integrity error with formatted message.
func Integrityf(format string, args ...any) *Error {
	return &Error{Code: CodeIntegrity, Message: fmt.Sprintf(format, args...)}
}

// RateLimited creates an admission-cap error.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Anomaly creates an anomaly-rejection error.
func Anomaly(msg string) *Error {
	return &Error{Code: CodeAnomaly, Message: msg}
}

// Suspended creates a suspension error.
func Suspended(msg string) *Error {
	return &Error{Code: CodeSuspended, Message: msg}
}

// Transient creates a retryable transient error.
func Transient(msg string) *Error {
	return &Error{Code: CodeTransient, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
