package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"nycmg-backend/internal/handlers"
	"nycmg-backend/internal/middleware"
	"nycmg-backend/internal/websocket"
)

type Options struct {
	FrontendURL string
	// ChatLimit caps chat requests per client per minute.
	ChatLimit int
	Counter   middleware.Counter
	Logger    *zap.Logger
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

func New(
	chain *middleware.ErrorChain,
	jwtAuth *middleware.JWTAuth,
	aiHandler *handlers.AIErrorHandler,
	wsHub *websocket.Hub,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chain.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))
	r.Use(middleware.BodySnapshot)

	r.NotFound(chain.NotFound)

	if opts.ChatLimit <= 0 {
		opts.ChatLimit = 30
	}
	if opts.Counter == nil {
		opts.Counter = middleware.NewMemoryCounter(time.Minute)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	chatLimiter := middleware.NewRateLimiter(opts.Counter, opts.ChatLimit, time.Minute, chain.Handle, opts.Logger)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ai-error-handling", func(r chi.Router) {
			r.Get("/health", chain.Wrap(aiHandler.Health)) // Public

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.With(chatLimiter.Middleware).Post("/chat", chain.Wrap(aiHandler.Chat))
				r.Get("/recent", chain.Wrap(aiHandler.Recent))
				r.Get("/stats", chain.Wrap(aiHandler.Stats))
				r.Get("/analyze/{errorId}", chain.Wrap(aiHandler.Analyze))
			})

			// ──── WebSocket ────
			r.Get("/ws", wsHub.HandleWebSocket)
		})
	})

	return r
}
