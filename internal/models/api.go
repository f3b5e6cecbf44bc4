package models

import "github.com/google/uuid"

// APIError is the error envelope used by handlers that answer directly,
// outside the AI error chain.
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ErrorEvent is pushed to live-feed subscribers when a record is stored.
type ErrorEvent struct {
	ErrorID  uuid.UUID `json:"error_id"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Path     string    `json:"path,omitempty"`
}

type HealthResponse struct {
	Status             string `json:"status"`
	AIEnabled          bool   `json:"ai_enabled"`
	ProviderConfigured bool   `json:"provider_configured"`
	StoredErrors       int    `json:"stored_errors"`
	Timestamp          string `json:"timestamp"`
}

type RecentErrorsResponse struct {
	Errors []*ErrorRecord `json:"errors"`
	Count  int            `json:"count"`
}

// StatsResponse adds the durable record count, when Postgres is configured,
// to the in-memory aggregates.
type StatsResponse struct {
	ErrorStats
	PersistedTotal *int64 `json:"persisted_total,omitempty"`
}
