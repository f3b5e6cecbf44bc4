package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
	"nycmg-backend/internal/store"
)

type stubChatLog struct {
	entries []store.ChatLogEntry
}

func (s *stubChatLog) Append(entry store.ChatLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestChatRelay_ReturnsProviderTextVerbatim(t *testing.T) {
	gen := &stubGenerator{reply: "hello"}
	log := &stubChatLog{}
	relay := NewChatRelay(gen, newTestStore(t), log, zap.NewNop(), ClassifierOptions{AIEnabled: true})

	res, err := relay.Chat(context.Background(), "user-1", models.ChatRequest{Message: "test"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Response != "hello" {
		t.Fatalf("expected verbatim reply, got %q", res.Response)
	}
	if res.Timestamp.IsZero() {
		t.Fatal("expected timestamp")
	}
	if len(log.entries) != 1 || log.entries[0].Message != "test" || log.entries[0].UserID != "user-1" {
		t.Fatalf("unexpected chat log: %+v", log.entries)
	}
}

func TestChatRelay_IncludesErrorContext(t *testing.T) {
	s := newTestStore(t)
	classifier := NewErrorClassifier(nil, s, zap.NewNop(), ClassifierOptions{})
	rec := classifier.ProcessError(context.Background(), errors.New("playlist cover upload failed"), models.ErrorContext{Path: "/api/v1/playlists/9/cover", Method: "PUT"})

	gen := &stubGenerator{reply: "ok"}
	relay := NewChatRelay(gen, s, nil, zap.NewNop(), ClassifierOptions{AIEnabled: true})

	_, err := relay.Chat(context.Background(), "", models.ChatRequest{
		Message: "why did this fail?",
		ErrorID: &rec.ID,
		Context: models.ChatContext{
			Component: "PlaylistEditor",
			History: []models.ChatMessage{
				{Type: models.ChatMessageUser, Message: "hi"},
				{Type: models.ChatMessageAI, Message: "hello"},
				{Type: models.ChatMessageError, Message: "Please try again"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	prompt := gen.prompts[0]
	for _, want := range []string{rec.ID.String(), "PUT /api/v1/playlists/9/cover", "PlaylistEditor", "User: hi", "Assistant: hello", "User: why did this fail?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "Please try again") {
		t.Error("error bubbles must not be replayed to the provider")
	}
}

type stubLookup struct {
	rec *models.ErrorRecord
}

func (s stubLookup) GetByID(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	if s.rec == nil || s.rec.ID != id {
		return nil, errors.New("no rows in result set")
	}
	return s.rec, nil
}

func TestChatRelay_ArchivedErrorContext(t *testing.T) {
	archived := &models.ErrorRecord{
		ID:       uuid.New(),
		Message:  "stream token rejected",
		Kind:     apperr.KindAuthentication,
		Severity: apperr.SeverityHigh,
		Context:  models.ErrorContext{Path: "/api/v1/tracks/4/stream", Method: "GET"},
	}
	gen := &stubGenerator{reply: "ok"}
	relay := NewChatRelay(gen, newTestStore(t), nil, zap.NewNop(), ClassifierOptions{AIEnabled: true}).
		WithArchive(stubLookup{rec: archived})

	_, err := relay.Chat(context.Background(), "", models.ChatRequest{Message: "what happened?", ErrorID: &archived.ID})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "stream token rejected") || !strings.Contains(prompt, "GET /api/v1/tracks/4/stream") {
		t.Errorf("prompt should carry the archived record:\n%s", prompt)
	}
	if strings.Contains(prompt, "no longer on record") {
		t.Error("archived record reported as missing")
	}

	missing := uuid.New()
	gen.prompts = nil
	if _, err := relay.Chat(context.Background(), "", models.ChatRequest{Message: "and this?", ErrorID: &missing}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.Contains(gen.prompts[0], "no longer on record") {
		t.Error("unknown ids should still be reported as missing")
	}
}

func TestChatRelay_ProviderFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("quota exceeded")}
	log := &stubChatLog{}
	relay := NewChatRelay(gen, nil, log, zap.NewNop(), ClassifierOptions{AIEnabled: true})

	_, err := relay.Chat(context.Background(), "", models.ChatRequest{Message: "test"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(gen.prompts))
	}
	if len(log.entries) != 1 || !log.entries[0].Failed {
		t.Fatal("failed turn should still be logged")
	}
}

func TestChatRelay_Disabled(t *testing.T) {
	relay := NewChatRelay(nil, nil, nil, zap.NewNop(), ClassifierOptions{AIEnabled: true})
	_, err := relay.Chat(context.Background(), "", models.ChatRequest{Message: "test"})
	if !errors.Is(err, ErrAIUnavailable) {
		t.Fatalf("expected ErrAIUnavailable, got %v", err)
	}
}
