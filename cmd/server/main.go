package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nycmg-backend/internal/config"
	"nycmg-backend/internal/database"
	"nycmg-backend/internal/handlers"
	"nycmg-backend/internal/logging"
	"nycmg-backend/internal/metrics"
	"nycmg-backend/internal/middleware"
	"nycmg-backend/internal/repository"
	"nycmg-backend/internal/router"
	"nycmg-backend/internal/services"
	"nycmg-backend/internal/store"
	"nycmg-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("starting NYCMG API", zap.String("env", cfg.Env), zap.Bool("debug_errors", cfg.DebugErrors()))

	// ──── Step 2: Error Store and Chat Log ────
	errorStore, err := store.NewErrorStore(store.Options{
		Path:          filepath.Join(cfg.LogDir, "errors.json"),
		MaxErrors:     cfg.AIMaxErrors,
		RetentionDays: cfg.AIRetentionDays,
	})
	if err != nil {
		logger.Fatal("error store initialization failed", zap.Error(err))
	}
	defer errorStore.Close()

	chatLog, err := store.NewChatLog(filepath.Join(cfg.LogDir, "ai-chat.log"))
	if err != nil {
		logger.Fatal("chat log initialization failed", zap.Error(err))
	}
	defer chatLog.Close()

	// ──── Step 3: Optional PostgreSQL ────
	var errorRepo *repository.ErrorRepo
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("PostgreSQL connection failed", zap.Error(err))
		}
		defer pool.Close()

		if err := database.RunMigrations(context.Background(), pool, "migrations", logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		errorRepo = repository.NewErrorRepo(pool)
		logger.Info("PostgreSQL connected")
	}

	// ──── Step 4: Optional Redis ────
	var commandClient, pubsubClient *redis.Client
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Redis connection failed", zap.Error(err))
		}
		defer redisClients.Close()
		commandClient, pubsubClient = redisClients.Commands, redisClients.PubSub
		logger.Info("Redis connected")
	}

	// ──── Step 5: Gemini Client ────
	var llm services.TextGenerator
	if cfg.GeminiAPIKey != "" {
		geminiService, err := services.NewGeminiService(services.GeminiOptions{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			RequestsPerMin: cfg.GeminiRequestsPerMin,
			ConcurrentReqs: cfg.GeminiConcurrentReqs,
		}, logger)
		if err != nil {
			logger.Fatal("Gemini client initialization failed", zap.Error(err))
		}
		defer geminiService.Close()
		llm = geminiService
		logger.Info("Gemini client initialized", zap.String("model", cfg.GeminiModel))
	} else {
		logger.Warn("GEMINI_API_KEY not set, AI analysis disabled")
	}

	// ──── Step 6: Services ────
	aiOpts := services.ClassifierOptions{
		AIEnabled:      cfg.AIEnabled(),
		Timeout:        cfg.AITimeout,
		AnalysesPerMin: cfg.AIAnalysesPerMin,
	}
	m := metrics.New()
	classifier := services.NewErrorClassifier(llm, errorStore, logger, aiOpts).WithObserver(m)
	relay := services.NewChatRelay(llm, errorStore, chatLog, logger, aiOpts).WithObserver(m)

	chain := middleware.NewErrorChain(classifier, logger, cfg.DebugErrors())
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret, chain.Handle)

	wsHub := websocket.NewHub(pubsubClient, jwtAuth, logger)
	classifier.WithPublisher(wsHub)

	aiHandler := handlers.NewAIErrorHandler(errorStore, classifier, relay, llm != nil).WithLogger(logger)
	sweeper := store.NewRetentionSweeper(errorStore, logger)
	if errorRepo != nil {
		classifier.WithRepository(errorRepo)
		relay.WithArchive(errorRepo)
		aiHandler.WithArchive(errorRepo)
		sweeper.WithArchive(errorRepo)
	}
	sweeper.Start()

	var counter middleware.Counter
	if commandClient != nil {
		counter = middleware.NewRedisCounter(commandClient)
	} else {
		memCounter := middleware.NewMemoryCounter(time.Minute)
		defer memCounter.Stop()
		counter = memCounter
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go wsHub.Run(hubCtx)

	// ──── Step 7: HTTP Server ────
	r := router.New(chain, jwtAuth, aiHandler, wsHub, router.Options{
		FrontendURL: cfg.FrontendURL,
		ChatLimit:   cfg.AIChatRateLimit,
		Counter:     counter,
		Logger:      logger,
		Metrics:     m.Handler(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		sweeper.Stop()
		cancelHub()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("NYCMG API ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1/ai-error-handling", cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ai-error-handling/ws", cfg.Port)),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
