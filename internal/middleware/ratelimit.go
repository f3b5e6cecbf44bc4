package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nycmg-backend/internal/apperr"
)

// Counter counts hits per key inside a fixed window.
type Counter interface {
	// Hit records one request for key and returns the count so far in the
	// current window together with the time until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
}

type visitor struct {
	count int
	start time.Time
}

// MemoryCounter keeps windows in process memory.
type MemoryCounter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMemoryCounter(window time.Duration) *MemoryCounter {
	mc := &MemoryCounter{
		visitors: make(map[string]*visitor),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	// Cleanup goroutine
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mc.mu.Lock()
				for key, v := range mc.visitors {
					if mc.now().Sub(v.start) > window {
						delete(mc.visitors, key)
					}
				}
				mc.mu.Unlock()
			case <-mc.stopChan:
				return
			}
		}
	}()

	return mc
}

func (mc *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	v, exists := mc.visitors[key]
	if !exists || now.Sub(v.start) > window {
		v = &visitor{start: now}
		mc.visitors[key] = v
	}
	v.count++
	return v.count, window - now.Sub(v.start), nil
}

func (mc *MemoryCounter) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

// RedisCounter shares windows between instances.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

// Hit creates the key with its TTL and increments it in one transaction, so
// a counter never outlives its window.
func (rc *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	k := rc.prefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, window)
		incr = pipe.Incr(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("hit %s: %w", k, err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		// Key predates the transactional write and has no expiry.
		if err := rc.client.PExpire(ctx, k, window).Err(); err != nil {
			return int(incr.Val()), window, fmt.Errorf("expire %s: %w", k, err)
		}
		ttl = window
	}
	return int(incr.Val()), ttl, nil
}

type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	onError ErrorResponder
	logger  *zap.Logger
}

func NewRateLimiter(counter Counter, limit int, window time.Duration, onError ErrorResponder, logger *zap.Logger) *RateLimiter {
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
		}
	}
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
		onError: onError,
		logger:  logger,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		count, resetIn, err := rl.counter.Hit(r.Context(), key, rl.window)
		if err != nil {
			// Fail open when the counter backend is down.
			rl.logger.Warn("rate limit counter unavailable", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if count > rl.limit {
			rl.onError(w, r, apperr.RateLimited(resetIn))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id, ok := userIDFrom(r.Context()); ok {
		return "user:" + id.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
