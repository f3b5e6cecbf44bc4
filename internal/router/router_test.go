package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nycmg-backend/internal/handlers"
	"nycmg-backend/internal/metrics"
	"nycmg-backend/internal/middleware"
	"nycmg-backend/internal/services"
	"nycmg-backend/internal/store"
	"nycmg-backend/internal/websocket"
)

type echoGenerator struct{ reply string }

func (g echoGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.reply, nil
}

type testServer struct {
	handler http.Handler
	store   *store.ErrorStore
	auth    *middleware.JWTAuth
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	logger := zap.NewNop()

	s, err := store.NewErrorStore(store.Options{MaxErrors: 50})
	require.NoError(t, err)

	// Analysis replies are not JSON, so records fall back to synthetic analysis.
	gen := echoGenerator{reply: "hello"}
	opts := services.ClassifierOptions{AIEnabled: true, Timeout: time.Second}
	m := metrics.New()
	classifier := services.NewErrorClassifier(gen, s, logger, opts).WithObserver(m)
	relay := services.NewChatRelay(gen, s, nil, logger, opts).WithObserver(m)

	chain := middleware.NewErrorChain(classifier, logger, false)
	auth := middleware.NewJWTAuth("router-secret", chain.Handle)
	hub := websocket.NewHub(nil, auth, logger)
	classifier.WithPublisher(hub)

	counter := middleware.NewMemoryCounter(time.Minute)
	t.Cleanup(counter.Stop)

	h := New(chain, auth, handlers.NewAIErrorHandler(s, classifier, relay, true), hub, Options{
		ChatLimit: 2,
		Counter:   counter,
		Logger:    logger,
		Metrics:   m.Handler(),
	})
	return testServer{handler: h, store: s, auth: auth}
}

func (ts testServer) do(t *testing.T, method, target, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.1:4000"

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts testServer) token(t *testing.T) string {
	t.Helper()
	token, err := ts.auth.GenerateAccessToken(uuid.New(), "user", time.Minute)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/ai-error-handling/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["ai_enabled"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRouter_UnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/v1/does-not-exist", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "/api/v1/does-not-exist", body["path"])
	assert.Equal(t, 1, ts.store.Len())
}

func TestRouter_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/v1/ai-error-handling/recent", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, rr)["code"])
}

func TestRouter_ChatFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/ai-error-handling/chat", `{"message":"test"}`, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", decode(t, rr)["response"])

	rr = ts.do(t, http.MethodPost, "/api/v1/ai-error-handling/chat", `{"message":""}`, token)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rr)["code"])

	// Third request in the window trips the chat limiter.
	rr = ts.do(t, http.MethodPost, "/api/v1/ai-error-handling/chat", `{"message":"again"}`, token)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestRouter_RecentAndAnalyze(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t)

	ts.do(t, http.MethodGet, "/api/v1/missing", "", "")

	rr := ts.do(t, http.MethodGet, "/api/v1/ai-error-handling/recent?limit=5", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, float64(1), body["count"])

	id := ts.store.Recent(1)[0].ID
	rr = ts.do(t, http.MethodGet, "/api/v1/ai-error-handling/analyze/"+id.String(), "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id.String(), decode(t, rr)["id"])

	rr = ts.do(t, http.MethodGet, "/api/v1/ai-error-handling/stats", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), decode(t, rr)["total"])
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/api/v1/missing", "", "")

	rr := ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `nycmg_errors_recorded_total{kind="NOT_FOUND",severity="LOW"} 1`)
}
