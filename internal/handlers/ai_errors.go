package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/middleware"
	"nycmg-backend/internal/models"
	"nycmg-backend/internal/services"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

type errorStore interface {
	Get(id uuid.UUID) (*models.ErrorRecord, bool)
	Recent(limit int) []*models.ErrorRecord
	Len() int
	Stats() models.ErrorStats
}

type errorAnalyzer interface {
	AIEnabled() bool
	Reanalyze(ctx context.Context, rec *models.ErrorRecord) *models.ErrorRecord
}

type chatRelay interface {
	Chat(ctx context.Context, userID string, req models.ChatRequest) (services.ChatResult, error)
}

// errorArchive is the durable copy of records, used when a record has
// already left the in-memory store.
type errorArchive interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	Count(ctx context.Context) (int64, error)
}

type AIErrorHandler struct {
	store              errorStore
	analyzer           errorAnalyzer
	relay              chatRelay
	archive            errorArchive
	logger             *zap.Logger
	providerConfigured bool
}

func NewAIErrorHandler(store errorStore, analyzer errorAnalyzer, relay chatRelay, providerConfigured bool) *AIErrorHandler {
	return &AIErrorHandler{
		store:              store,
		analyzer:           analyzer,
		relay:              relay,
		logger:             zap.NewNop(),
		providerConfigured: providerConfigured,
	}
}

func (h *AIErrorHandler) WithLogger(logger *zap.Logger) *AIErrorHandler {
	h.logger = logger
	return h
}

// WithArchive enables lookups and counts against persisted records.
func (h *AIErrorHandler) WithArchive(archive errorArchive) *AIErrorHandler {
	h.archive = archive
	return h
}

// Chat relays one user turn to the assistant.
func (h *AIErrorHandler) Chat(w http.ResponseWriter, r *http.Request) error {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperr.Validation("Invalid request body", nil).Wrap(err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return apperr.Validation("Message is required", map[string]string{"message": "required"})
	}

	var userID string
	if id := middleware.GetUserID(r.Context()); id != uuid.Nil {
		userID = id.String()
	}

	res, err := h.relay.Chat(r.Context(), userID, req)
	if err != nil {
		// Chat failures bypass the error chain.
		if errors.Is(err, services.ErrAIUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, errorResp("AI_UNAVAILABLE", "AI assistant is not configured", r))
			return nil
		}
		writeJSON(w, http.StatusBadGateway, errorResp("AI_ERROR", "Failed to get AI response", r))
		return nil
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Response: res.Response, Timestamp: res.Timestamp})
	return nil
}

// Recent lists the newest stored records.
func (h *AIErrorHandler) Recent(w http.ResponseWriter, r *http.Request) error {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperr.Validation("limit must be a positive integer", map[string]string{"limit": "invalid"})
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	records := h.store.Recent(limit)
	if records == nil {
		records = []*models.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, models.RecentErrorsResponse{Errors: records, Count: len(records)})
	return nil
}

// Stats aggregates the in-memory records and, when available, counts the
// archive alongside. An archive failure only drops persisted_total.
func (h *AIErrorHandler) Stats(w http.ResponseWriter, r *http.Request) error {
	var resp models.StatsResponse

	var g errgroup.Group
	g.Go(func() error {
		resp.ErrorStats = h.store.Stats()
		return nil
	})
	if h.archive != nil {
		g.Go(func() error {
			total, err := h.archive.Count(r.Context())
			if err != nil {
				h.logger.Warn("failed to count archived error records", zap.Error(err))
				return nil
			}
			resp.PersistedTotal = &total
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, resp)
	return nil
}

// Health reports whether AI analysis is active.
func (h *AIErrorHandler) Health(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:             "ok",
		AIEnabled:          h.analyzer.AIEnabled(),
		ProviderConfigured: h.providerConfigured,
		StoredErrors:       h.store.Len(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// Analyze returns one record, re-running the provider when the stored
// analysis was generated locally.
func (h *AIErrorHandler) Analyze(w http.ResponseWriter, r *http.Request) error {
	id, err := uuid.Parse(chi.URLParam(r, "errorId"))
	if err != nil {
		return apperr.Validation("Invalid error ID", map[string]string{"errorId": "must be a UUID"})
	}

	rec, ok := h.store.Get(id)
	if !ok {
		if h.archive == nil {
			return apperr.NotFound("Error record not found")
		}
		// pgx.ErrNoRows classifies as NOT_FOUND.
		rec, err = h.archive.GetByID(r.Context(), id)
		if err != nil {
			return err
		}
	}

	if rec.AIAnalysis.Synthetic && h.analyzer.AIEnabled() {
		rec = h.analyzer.Reanalyze(r.Context(), rec)
	}

	writeJSON(w, http.StatusOK, rec)
	return nil
}
