package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessageType tags a chat turn.
type ChatMessageType string

const (
	ChatMessageUser  ChatMessageType = "user"
	ChatMessageAI    ChatMessageType = "ai"
	ChatMessageError ChatMessageType = "error"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	ID        uuid.UUID       `json:"id"`
	Type      ChatMessageType `json:"type"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	ErrorID   *uuid.UUID      `json:"error_id,omitempty"`
}

// ChatContext is replayed by the client on every turn; the server keeps no
// conversation memory of its own.
type ChatContext struct {
	Component string        `json:"component,omitempty"`
	Path      string        `json:"path,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	History   []ChatMessage `json:"history,omitempty"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message string      `json:"message"`
	Context ChatContext `json:"context"`
	ErrorID *uuid.UUID  `json:"error_id,omitempty"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}
