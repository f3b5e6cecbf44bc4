package services

import (
	"net/http"
	"time"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
)

const (
	genericErrorMessage = "An unexpected error occurred. Please try again later."
	maxSuggestions      = 3
)

var severityStatus = map[apperr.Severity]int{
	apperr.SeverityCritical: http.StatusServiceUnavailable,
	apperr.SeverityHigh:     http.StatusInternalServerError,
	apperr.SeverityMedium:   http.StatusBadRequest,
	apperr.SeverityLow:      http.StatusOK,
}

const titleNotFound = "NOT_FOUND"

var errorTitles = map[string]string{
	string(apperr.SeverityCritical): "Service Unavailable",
	string(apperr.SeverityHigh):     "Internal Server Error",
	string(apperr.SeverityMedium):   "Bad Request",
	string(apperr.SeverityLow):      "Warning",
	titleNotFound:                   "Not Found",
}

// Response is a status and JSON body ready to be written.
type Response struct {
	Status int
	Body   map[string]interface{}
}

// StatusFor maps a severity bucket to its HTTP status.
func StatusFor(sev apperr.Severity) int {
	if status, ok := severityStatus[sev]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// TitleFor returns the human title of a record.
func TitleFor(rec *models.ErrorRecord) string {
	key := string(rec.Severity)
	if rec.Kind == apperr.KindNotFound {
		key = titleNotFound
	}
	if title, ok := errorTitles[key]; ok {
		return title
	}
	return "Error"
}

// BuildErrorResponse assembles the response for rec. It reads nothing but its
// arguments, so the same record and request always give the same response.
// debug adds the stack and raw context.
func BuildErrorResponse(rec *models.ErrorRecord, r *http.Request, debug bool) Response {
	message := rec.AIAnalysis.UserCommunication
	if message == "" {
		message = genericErrorMessage
	}

	body := map[string]interface{}{
		"error":      TitleFor(rec),
		"message":    message,
		"severity":   rec.Severity,
		"error_id":   rec.ID.String(),
		"request_id": requestIDOf(rec, r),
		"timestamp":  rec.Timestamp.UTC().Format(time.RFC3339),
	}

	if rec.Severity != apperr.SeverityCritical && len(rec.AIAnalysis.SuggestedFixes) > 0 {
		fixes := rec.AIAnalysis.SuggestedFixes
		if len(fixes) > maxSuggestions {
			fixes = fixes[:maxSuggestions]
		}
		body["suggestions"] = append([]string(nil), fixes...)
	}

	status := StatusFor(rec.Severity)
	if rec.Severity == apperr.SeverityLow {
		body["warning"] = true
	}

	if debug {
		body["stack"] = rec.Stack
		body["context"] = rec.Context
		body["root_cause"] = rec.AIAnalysis.RootCause
	}

	return Response{Status: status, Body: body}
}

func requestIDOf(rec *models.ErrorRecord, r *http.Request) string {
	if rec.Context.RequestID != "" {
		return rec.Context.RequestID
	}
	if r != nil {
		return r.Header.Get("X-Request-ID")
	}
	return ""
}
