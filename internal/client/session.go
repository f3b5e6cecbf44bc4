package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nycmg-backend/internal/models"
)

// TryAgainMessage is shown in place of a reply when the assistant fails.
const TryAgainMessage = "Sorry, I could not process your request. Please try again."

type Status string

const (
	StatusIdle    Status = "idle"
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type ResultKind int

const (
	ResultReply ResultKind = iota
	ResultFailed
	ResultRejected
)

// Result is the outcome of one Send. Reply and Failed carry the message that
// was appended; Rejected means nothing was sent.
type Result struct {
	Kind    ResultKind
	Message models.ChatMessage
	Err     error
}

type chatter interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// ChatSession holds the client side of one chat panel. The server keeps no
// history, so each Send replays the session's messages as context.
type ChatSession struct {
	mu        sync.Mutex
	client    chatter
	messages  []models.ChatMessage
	status    Status
	component string
	path      string
	errorID   *uuid.UUID
	now       func() time.Time
}

func NewChatSession(client chatter) *ChatSession {
	return &ChatSession{client: client, status: StatusIdle, now: time.Now}
}

// WithError ties the session to a stored error record.
func (s *ChatSession) WithError(id uuid.UUID) *ChatSession {
	s.errorID = &id
	return s
}

// WithScreen sets the component and path sent with each turn.
func (s *ChatSession) WithScreen(component, path string) *ChatSession {
	s.component = component
	s.path = path
	return s
}

// Send appends text as a user message, asks the assistant, and appends its
// reply or the try-again message.
func (s *ChatSession) Send(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if text == "" || s.status == StatusSending {
		s.mu.Unlock()
		return Result{Kind: ResultRejected}
	}
	history := append([]models.ChatMessage(nil), s.messages...)
	s.messages = append(s.messages, s.newMessage(models.ChatMessageUser, text))
	s.status = StatusSending
	req := models.ChatRequest{
		Message: text,
		ErrorID: s.errorID,
		Context: models.ChatContext{Component: s.component, Path: s.path, History: history},
	}
	s.mu.Unlock()

	resp, err := s.client.Chat(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		msg := s.newMessage(models.ChatMessageError, TryAgainMessage)
		s.messages = append(s.messages, msg)
		s.status = StatusError
		return Result{Kind: ResultFailed, Message: msg, Err: err}
	}

	msg := s.newMessage(models.ChatMessageAI, resp.Response)
	if !resp.Timestamp.IsZero() {
		msg.Timestamp = resp.Timestamp
	}
	s.messages = append(s.messages, msg)
	s.status = StatusSuccess
	return Result{Kind: ResultReply, Message: msg}
}

func (s *ChatSession) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *ChatSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Clear drops the conversation and returns to idle.
func (s *ChatSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.status = StatusIdle
}

func (s *ChatSession) newMessage(t models.ChatMessageType, text string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.New(),
		Type:      t,
		Message:   text,
		Timestamp: s.now().UTC(),
		ErrorID:   s.errorID,
	}
}
