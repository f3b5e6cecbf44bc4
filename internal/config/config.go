package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database (optional)
	DatabaseURL string

	// Redis (optional)
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiRequestsPerMin int
	GeminiConcurrentReqs int

	// AI error handling
	AIErrorHandlingEnabled bool
	AIErrorHandlingDebug   bool
	AIMaxErrors            int
	AIRetentionDays        int
	AITimeout              time.Duration
	AIChatRateLimit        int
	AIAnalysesPerMin       int

	// Logging
	LogDir    string
	LogLevel  string
	LogFormat string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("NODE_ENV", "development"),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:    getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiRequestsPerMin: getEnvAsIntOrDefault("GEMINI_REQUESTS_PER_MINUTE", 60),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),

		AIErrorHandlingEnabled: getEnvAsBoolOrDefault("AI_ERROR_HANDLING_ENABLED", true),
		AIErrorHandlingDebug:   getEnvAsBoolOrDefault("AI_ERROR_HANDLING_DEBUG", false),
		AIMaxErrors:            getEnvAsIntOrDefault("AI_ERROR_HANDLING_MAX_ERRORS", 1000),
		AIRetentionDays:        getEnvAsIntOrDefault("AI_ERROR_HANDLING_RETENTION_DAYS", 7),
		AITimeout:              getEnvAsDurationOrDefault("AI_ERROR_HANDLING_TIMEOUT", 10*time.Second),
		AIChatRateLimit:        getEnvAsIntOrDefault("AI_ERROR_HANDLING_CHAT_LIMIT", 30),
		AIAnalysesPerMin:       getEnvAsIntOrDefault("AI_ERROR_HANDLING_ANALYSES_PER_MINUTE", 30),

		LogDir:    getEnvOrDefault("LOG_DIR", "logs"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// IsProduction reports whether NODE_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DebugErrors reports whether error bodies may carry stacks and raw context.
func (c *Config) DebugErrors() bool {
	return c.AIErrorHandlingDebug || !c.IsProduction()
}

// AIEnabled reports whether the provider should be called at all.
func (c *Config) AIEnabled() bool {
	return c.AIErrorHandlingEnabled && c.GeminiAPIKey != ""
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("15s") or plain milliseconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
