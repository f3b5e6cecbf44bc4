package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Classify normalizes any error into an *Error with exactly one Kind.
// Typed checks run first; the message heuristic is a last resort for
// errors from libraries that expose nothing better than text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		out := *appErr
		return &out
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired().Wrap(err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return Unauthorized("Invalid token").Wrap(err)

	case errors.Is(err, pgx.ErrNoRows):
		return NotFound("Resource not found").Wrap(err)

	case errors.Is(err, http.ErrMissingFile):
		return FileUpload("MISSING_FILE", "No file was uploaded").Wrap(err)
	case errors.Is(err, multipart.ErrMessageTooLarge):
		e := FileUpload("LIMIT_FILE_SIZE", "File too large")
		e.Status = http.StatusRequestEntityTooLarge
		return e.Wrap(err)

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, redis.ErrClosed):
		return Database("Service temporarily unavailable", err)
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		e := FileUpload("LIMIT_FILE_SIZE", "File too large")
		e.Status = http.StatusRequestEntityTooLarge
		return e.Wrap(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(pgErr)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Database("Database connection failed", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Database("Service temporarily unavailable", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Validation("Invalid request body", nil).Wrap(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"):
		return Unauthorized(err.Error()).Wrap(err)
	case strings.Contains(msg, "forbidden"):
		return Forbidden(err.Error()).Wrap(err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "database"):
		return Database("Service temporarily unavailable", err)
	}

	return Internal(err.Error(), "", err)
}

// classifyPgError maps SQLSTATE classes. Integrity and data exceptions are the
// caller's fault; everything else means the database cannot serve.
func classifyPgError(pgErr *pgconn.PgError) *Error {
	switch {
	case strings.HasPrefix(pgErr.Code, "23"):
		fields := map[string]string{}
		if pgErr.ColumnName != "" {
			fields[pgErr.ColumnName] = pgErr.Message
		} else if pgErr.ConstraintName != "" {
			fields[pgErr.ConstraintName] = pgErr.Message
		}
		e := Validation("Constraint violation", fields)
		e.Code = "CONSTRAINT_VIOLATION"
		return e.Wrap(pgErr)
	case strings.HasPrefix(pgErr.Code, "22"):
		return Validation("Invalid data", nil).Wrap(pgErr)
	default:
		return Database("Database error", pgErr)
	}
}

// SeverityOf returns the explicit severity carried by e, or the bucket its
// kind defaults to. Unclassified errors default to HIGH.
func SeverityOf(e *Error) Severity {
	if e == nil {
		return SeverityHigh
	}
	if e.Severity.Valid() {
		return e.Severity
	}
	switch e.Kind {
	case KindValidation, KindFileUpload:
		return SeverityMedium
	case KindAuthentication:
		return SeverityHigh
	case KindDatabase:
		return SeverityCritical
	case KindRateLimit, KindNotFound:
		return SeverityLow
	default:
		return SeverityHigh
	}
}

// RetryAfterSeconds returns the rate-limit hint in whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return int(DefaultRetryAfter.Seconds())
	}
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
