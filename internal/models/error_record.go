package models

import (
	"time"

	"github.com/google/uuid"

	"nycmg-backend/internal/apperr"
)

// ErrorContext describes the request an error was raised in.
// Headers and Body are sanitized before they are stored.
type ErrorContext struct {
	Component string            `json:"component,omitempty"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      interface{}       `json:"body,omitempty"`
}

// AIAnalysis is the provider's reading of an error. Synthetic is set when the
// provider was unavailable and the analysis was generated locally.
type AIAnalysis struct {
	RootCause         string   `json:"root_cause"`
	SuggestedFixes    []string `json:"suggested_fixes"`
	UserCommunication string   `json:"user_communication"`
	Synthetic         bool     `json:"synthetic"`
}

// ErrorRecord is a caught error plus its classification and analysis.
// Records are never modified after they are stored.
type ErrorRecord struct {
	ID          uuid.UUID       `json:"id"`
	Message     string          `json:"message"`
	Stack       string          `json:"stack,omitempty"`
	Kind        apperr.Kind     `json:"kind"`
	Code        string          `json:"code"`
	Severity    apperr.Severity `json:"severity"`
	Fingerprint string          `json:"fingerprint"`
	Context     ErrorContext    `json:"context"`
	Timestamp   time.Time       `json:"timestamp"`
	AIAnalysis  AIAnalysis      `json:"ai_analysis"`
}

// ErrorStats is the aggregate view served by the stats endpoint.
type ErrorStats struct {
	Total           int                     `json:"total"`
	BySeverity      map[apperr.Severity]int `json:"by_severity"`
	ByKind          map[apperr.Kind]int     `json:"by_kind"`
	Last24h         int                     `json:"last_24h"`
	TopFingerprints []FingerprintCount      `json:"top_fingerprints"`
}

type FingerprintCount struct {
	Fingerprint string      `json:"fingerprint"`
	Kind        apperr.Kind `json:"kind"`
	Message     string      `json:"message"`
	Count       int         `json:"count"`
}
