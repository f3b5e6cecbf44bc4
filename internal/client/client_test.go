package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newAPI(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok")
}

func TestChatSession_Reply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ai-error-handling/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req models.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test", req.Message)
		writeJSON(w, http.StatusOK, models.ChatResponse{Response: "hello", Timestamp: time.Now()})
	})

	session := NewChatSession(newAPI(t, mux))
	res := session.Send(context.Background(), "test")

	require.Equal(t, ResultReply, res.Kind)
	msgs := session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.ChatMessageUser, msgs[0].Type)
	assert.Equal(t, "test", msgs[0].Message)
	assert.Equal(t, models.ChatMessageAI, msgs[1].Type)
	assert.Equal(t, "hello", msgs[1].Message)
	assert.Equal(t, StatusSuccess, session.Status())
}

func TestChatSession_FailureShowsTryAgain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ai-error-handling/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: models.APIError{Code: "AI_ERROR", Message: "Failed to get AI response"}})
	})

	session := NewChatSession(newAPI(t, mux))
	res := session.Send(context.Background(), "why?")

	require.Equal(t, ResultFailed, res.Kind)
	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "AI_ERROR", apiErr.Code)

	msgs := session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.ChatMessageError, msgs[1].Type)
	assert.Equal(t, TryAgainMessage, msgs[1].Message)
	assert.Equal(t, StatusError, session.Status())
}

type recordingChatter struct {
	reqs []models.ChatRequest
}

func (r *recordingChatter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	r.reqs = append(r.reqs, req)
	return models.ChatResponse{Response: "ok"}, nil
}

func TestChatSession_ReplaysHistory(t *testing.T) {
	chatter := &recordingChatter{}
	errorID := uuid.New()
	session := NewChatSession(chatter).WithError(errorID).WithScreen("ArtistPage", "/artists/7")

	session.Send(context.Background(), "first")
	session.Send(context.Background(), "second")

	require.Len(t, chatter.reqs, 2)
	assert.Empty(t, chatter.reqs[0].Context.History)
	assert.Len(t, chatter.reqs[1].Context.History, 2)
	assert.Equal(t, "ArtistPage", chatter.reqs[1].Context.Component)
	assert.Equal(t, errorID, *chatter.reqs[1].ErrorID)
}

func TestChatSession_RejectsEmpty(t *testing.T) {
	chatter := &recordingChatter{}
	session := NewChatSession(chatter)

	res := session.Send(context.Background(), "   ")
	assert.Equal(t, ResultRejected, res.Kind)
	assert.Empty(t, session.Messages())
	assert.Empty(t, chatter.reqs)
	assert.Equal(t, StatusIdle, session.Status())
}

func TestClient_ChainErrorShape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ai-error-handling/analyze/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "Not Found",
			"message": "Error record not found",
			"code":    "NOT_FOUND",
		})
	})

	_, err := newAPI(t, mux).Analyze(context.Background(), uuid.New())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "Error record not found", apiErr.Message)
}

func TestLoadDashboard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ai-error-handling/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.StatsResponse{ErrorStats: models.ErrorStats{Total: 3}})
	})
	mux.HandleFunc("/api/v1/ai-error-handling/recent", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, models.RecentErrorsResponse{
			Errors: []*models.ErrorRecord{{ID: uuid.New(), Kind: apperr.KindGeneric}},
			Count:  1,
		})
	})
	mux.HandleFunc("/api/v1/ai-error-handling/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", AIEnabled: true})
	})

	d, err := newAPI(t, mux).LoadDashboard(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Stats.Total)
	assert.Len(t, d.Recent, 1)
	assert.True(t, d.Health.AIEnabled)
}

func TestLoadDashboard_PropagatesFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "Internal Server Error", "code": "UNAUTHORIZED", "message": "Invalid token"})
	})

	_, err := newAPI(t, mux).LoadDashboard(context.Background(), 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
