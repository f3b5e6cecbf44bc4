package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nycmg-backend/internal/models"
	"nycmg-backend/internal/store"
)

// ErrAIUnavailable is returned by the relay when no provider is configured.
var ErrAIUnavailable = errors.New("AI provider is not available")

const maxHistoryTurns = 10

type chatLogger interface {
	Append(entry store.ChatLogEntry) error
}

// recordLookup finds records that have left the in-memory store.
type recordLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
}

// ChatResult is the relay's answer to one user turn.
type ChatResult struct {
	Response  string
	Timestamp time.Time
}

// ChatRelay forwards user questions, with any error context, to the provider.
// It holds no conversation state between calls.
type ChatRelay struct {
	llm       TextGenerator
	store     *store.ErrorStore
	chatLog   chatLogger
	archive   recordLookup
	observer  Observer
	logger    *zap.Logger
	aiEnabled bool
	timeout   time.Duration
	now       func() time.Time
}

func NewChatRelay(llm TextGenerator, errorStore *store.ErrorStore, chatLog chatLogger, logger *zap.Logger, opts ClassifierOptions) *ChatRelay {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &ChatRelay{
		llm:       llm,
		store:     errorStore,
		chatLog:   chatLog,
		observer:  nopObserver{},
		logger:    logger,
		aiEnabled: opts.AIEnabled && llm != nil,
		timeout:   opts.Timeout,
		now:       time.Now,
	}
}

// WithObserver reports chat outcomes to o.
func (c *ChatRelay) WithObserver(o Observer) *ChatRelay {
	c.observer = o
	return c
}

// WithArchive resolves error ids missing from memory against archive.
func (c *ChatRelay) WithArchive(archive recordLookup) *ChatRelay {
	c.archive = archive
	return c
}

// Chat sends one turn to the provider and returns its text verbatim.
func (c *ChatRelay) Chat(ctx context.Context, userID string, req models.ChatRequest) (ChatResult, error) {
	if !c.aiEnabled {
		c.observer.ChatCompleted(OutcomeUnavailable)
		return ChatResult{}, ErrAIUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rec *models.ErrorRecord
	if req.ErrorID != nil {
		rec = c.lookup(ctx, *req.ErrorID)
	}

	reply, err := c.llm.GenerateText(ctx, buildChatPrompt(req, rec))
	now := c.now().UTC()

	c.appendLog(store.ChatLogEntry{
		Timestamp: now,
		UserID:    userID,
		ErrorID:   req.ErrorID,
		Message:   req.Message,
		Response:  reply,
		Failed:    err != nil,
	})

	if err != nil {
		c.logger.Warn("chat relay failed", zap.String("user_id", userID), zap.Error(err))
		c.observer.ChatCompleted(OutcomeProviderError)
		return ChatResult{}, fmt.Errorf("chat completion failed: %w", err)
	}

	c.observer.ChatCompleted(OutcomeOK)
	return ChatResult{Response: reply, Timestamp: now}, nil
}

func (c *ChatRelay) lookup(ctx context.Context, id uuid.UUID) *models.ErrorRecord {
	if c.store != nil {
		if rec, ok := c.store.Get(id); ok {
			return rec
		}
	}
	if c.archive == nil {
		return nil
	}
	rec, err := c.archive.GetByID(ctx, id)
	if err != nil {
		c.logger.Debug("chat error context not archived", zap.String("error_id", id.String()), zap.Error(err))
		return nil
	}
	return rec
}

func (c *ChatRelay) appendLog(entry store.ChatLogEntry) {
	if c.chatLog == nil {
		return
	}
	if err := c.chatLog.Append(entry); err != nil {
		c.logger.Warn("failed to write chat log", zap.Error(err))
	}
}

func buildChatPrompt(req models.ChatRequest, rec *models.ErrorRecord) string {
	var b strings.Builder

	b.WriteString("You are the NYCMG support assistant. NYCMG is a music discovery app where users browse NYC boroughs, follow artists and build playlists. ")
	b.WriteString("Answer the user's question about an error they ran into. Be concise and friendly. Plain text only.\n\n")

	if rec != nil {
		b.WriteString("---ERROR CONTEXT---\n")
		fmt.Fprintf(&b, "Error ID: %s\nKind: %s\nSeverity: %s\nMessage: %s\n", rec.ID, rec.Kind, rec.Severity, rec.Message)
		if rec.Context.Path != "" {
			fmt.Fprintf(&b, "Request: %s %s\n", rec.Context.Method, rec.Context.Path)
		}
		if rec.AIAnalysis.RootCause != "" {
			fmt.Fprintf(&b, "Likely cause: %s\n", rec.AIAnalysis.RootCause)
		}
		b.WriteString("---END---\n\n")
	} else if req.ErrorID != nil {
		fmt.Fprintf(&b, "The user refers to error %s, which is no longer on record.\n\n", req.ErrorID.String())
	}

	cc := req.Context
	if cc.Component != "" || cc.Path != "" {
		fmt.Fprintf(&b, "User is on screen %q (%s).\n", cc.Component, cc.Path)
	}
	if cc.Notes != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", cc.Notes)
	}

	history := cc.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\n---CONVERSATION---\n")
		for _, m := range history {
			role := "User"
			switch m.Type {
			case models.ChatMessageAI:
				role = "Assistant"
			case models.ChatMessageError:
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Message)
		}
		b.WriteString("---END---\n")
	}

	b.WriteString("\nUser: ")
	b.WriteString(req.Message)
	b.WriteString("\n")

	return b.String()
}
