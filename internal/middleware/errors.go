package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
	"nycmg-backend/internal/services"
)

// ErrorResponder answers a request with the outcome of err.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

type errorProcessor interface {
	ProcessError(ctx context.Context, err error, ectx models.ErrorContext) *models.ErrorRecord
}

// ErrorHandler answers e and reports true, or reports false to pass e on.
type ErrorHandler func(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool

// ErrorChain is the ordered list of error handlers every failing request
// goes through. The last handler always matches.
type ErrorChain struct {
	processor errorProcessor
	logger    *zap.Logger
	debug     bool
	handlers  []ErrorHandler
}

func NewErrorChain(processor errorProcessor, logger *zap.Logger, debug bool) *ErrorChain {
	return &ErrorChain{
		processor: processor,
		logger:    logger,
		debug:     debug,
		handlers: []ErrorHandler{
			handleValidation,
			handleAuth,
			handleDatabase,
			handleRateLimit,
			handleFileUpload,
			handleNotFound,
			handleGeneric,
		},
	}
}

// Handle classifies err once and runs it down the chain.
func (c *ErrorChain) Handle(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.Classify(err)
	if e == nil {
		return
	}
	for _, h := range c.handlers {
		if h(c, w, r, e) {
			return
		}
	}
}

// Wrap adapts a handler that returns errors into an http.HandlerFunc.
func (c *ErrorChain) Wrap(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Recovering here sees the request as the inner middleware left it,
		// with the user id and body snapshot in its context.
		defer c.recoverPanic(w, r)
		if err := fn(w, r); err != nil {
			c.Handle(w, r, err)
		}
	}
}

// NotFound answers unmatched routes through the chain.
func (c *ErrorChain) NotFound(w http.ResponseWriter, r *http.Request) {
	e := apperr.NotFound("The requested resource was not found")
	e.Code = "ROUTE_NOT_FOUND"
	c.Handle(w, r, e)
}

// Recoverer turns panics raised outside Wrap, in middleware, into chain
// errors.
func (c *ErrorChain) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer c.recoverPanic(w, r)
		next.ServeHTTP(w, r)
	})
}

// recoverPanic must be deferred directly.
func (c *ErrorChain) recoverPanic(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	c.logger.Error("recovered panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
	c.Handle(w, r, &panicError{value: rec, stack: string(debug.Stack())})
}

type panicError struct {
	value interface{}
	stack string
}

func (p *panicError) Error() string      { return fmt.Sprintf("panic: %v", p.value) }
func (p *panicError) StackTrace() string { return p.stack }

// process records e and builds the default response for it.
func (c *ErrorChain) process(r *http.Request, e *apperr.Error) services.Response {
	rec := c.processor.ProcessError(r.Context(), e, errorContext(r))
	resp := services.BuildErrorResponse(rec, r, c.debug)
	resp.Body["code"] = e.Code
	return resp
}

func handleValidation(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindValidation {
		return false
	}
	resp := c.process(r, e)
	if len(e.Fields) > 0 {
		resp.Body["details"] = e.Fields
	} else {
		resp.Body["details"] = e.Message
	}
	writeJSON(w, http.StatusBadRequest, resp.Body)
	return true
}

func handleAuth(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindAuthentication {
		return false
	}
	resp := c.process(r, e)
	status := http.StatusUnauthorized
	if e.Status == http.StatusForbidden {
		status = http.StatusForbidden
	}
	writeJSON(w, status, resp.Body)
	return true
}

func handleDatabase(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindDatabase {
		return false
	}
	resp := c.process(r, e)
	writeJSON(w, http.StatusServiceUnavailable, resp.Body)
	return true
}

func handleRateLimit(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindRateLimit {
		return false
	}
	resp := c.process(r, e)
	retryAfter := e.RetryAfterSeconds()
	resp.Body["retry_after"] = retryAfter
	delete(resp.Body, "warning")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	writeJSON(w, http.StatusTooManyRequests, resp.Body)
	return true
}

func handleFileUpload(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindFileUpload {
		return false
	}
	resp := c.process(r, e)
	resp.Body["details"] = e.Message
	status := http.StatusBadRequest
	if e.Status == http.StatusRequestEntityTooLarge {
		status = e.Status
	}
	writeJSON(w, status, resp.Body)
	return true
}

func handleNotFound(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	if e.Kind != apperr.KindNotFound {
		return false
	}
	resp := c.process(r, e)
	resp.Body["message"] = e.Message
	resp.Body["path"] = r.URL.Path
	resp.Body["method"] = r.Method
	delete(resp.Body, "warning")
	writeJSON(w, http.StatusNotFound, resp.Body)
	return true
}

func handleGeneric(c *ErrorChain, w http.ResponseWriter, r *http.Request, e *apperr.Error) bool {
	resp := c.process(r, e)
	writeJSON(w, resp.Status, resp.Body)
	return true
}

func errorContext(r *http.Request) models.ErrorContext {
	ectx := models.ErrorContext{
		Path:      r.URL.Path,
		Method:    r.Method,
		RequestID: r.Header.Get("X-Request-ID"),
		Headers:   services.SanitizeHeaders(r.Header),
		Body:      bodySnapshot(r.Context()),
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		ectx.Component = rctx.RoutePattern()
	}
	if id, ok := userIDFrom(r.Context()); ok {
		ectx.UserID = id.String()
	}
	return ectx
}

type bodyKey struct{}

const maxSnapshotBytes = 16 << 10

// BodySnapshot keeps a sanitized copy of small JSON bodies so errors can
// report what the client sent. The body remains readable downstream.
func BodySnapshot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			next.ServeHTTP(w, r)
			return
		}

		head, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes+1))
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
		if err != nil || len(head) > maxSnapshotBytes {
			next.ServeHTTP(w, r)
			return
		}

		var decoded interface{}
		if json.Unmarshal(head, &decoded) == nil {
			ctx := context.WithValue(r.Context(), bodyKey{}, services.SanitizeBody(decoded))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func bodySnapshot(ctx context.Context) interface{} {
	return ctx.Value(bodyKey{})
}
