// Package apperr defines the closed set of error kinds the API understands
// and the typed error values handlers return to the error chain.
package apperr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is the classification of a caught error. The set is closed: every
// error reaching the chain is mapped to exactly one Kind by Classify.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindAuthentication Kind = "AUTHENTICATION"
	KindDatabase       Kind = "DATABASE"
	KindRateLimit      Kind = "RATE_LIMIT"
	KindFileUpload     Kind = "FILE_UPLOAD"
	KindNotFound       Kind = "NOT_FOUND"
	KindGeneric        Kind = "GENERIC"
)

// Kinds lists every kind in chain order.
var Kinds = []Kind{
	KindValidation,
	KindAuthentication,
	KindDatabase,
	KindRateLimit,
	KindFileUpload,
	KindNotFound,
	KindGeneric,
}

// Severity buckets pick the HTTP status and phrasing of a response.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities lists every bucket from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s is one of the four buckets.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// DefaultRetryAfter is used for rate-limit errors that carry no hint.
const DefaultRetryAfter = 60 * time.Second

// Error is the typed error returned by handlers, services and middleware.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Status overrides the kind's default HTTP status when non-zero.
	Status int
	// Severity overrides the kind's default severity when set.
	Severity Severity
	// Fields holds per-field validation messages.
	Fields map[string]string
	// RetryAfter is the rate-limit hint; zero means DefaultRetryAfter.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause and returns e.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message, Fields: fields}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: "UNAUTHORIZED", Message: message}
}

func TokenExpired() *Error {
	return &Error{Kind: KindAuthentication, Code: "TOKEN_EXPIRED", Message: "Token has expired"}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden}
}

func Database(message string, cause error) *Error {
	return (&Error{Kind: KindDatabase, Code: "SERVICE_UNAVAILABLE", Message: message}).Wrap(cause)
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       "RATE_LIMITED",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: retryAfter,
	}
}

func FileUpload(code, message string) *Error {
	return &Error{Kind: KindFileUpload, Code: code, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: message}
}

// Internal marks an unexpected failure with an explicit severity.
func Internal(message string, severity Severity, cause error) *Error {
	return (&Error{Kind: KindGeneric, Code: "INTERNAL_ERROR", Message: message, Severity: severity}).Wrap(cause)
}
