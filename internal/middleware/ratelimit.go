// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"skyportal/pkg/logger"
)

// Counter is satisfied by *cache.RedisCache.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter applies a fixed-window rate limit per client IP. It protects
// the availability check from being used to enumerate registered emails.
type RateLimiter struct {
	counter Counter
	name    string
	limit   int
	window  time.Duration
	logger  logger.Logger
}

// NewRateLimiter constructs a RateLimiter with the given limit and window.
func NewRateLimiter(counter Counter, name string, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewNop()
	}
	return &RateLimiter{
		counter: counter,
		name:    name,
		limit:   limit,
		window:  window,
		logger:  log,
	}
}

// Limit enforces the rate limit. When the counter store is down requests
// pass through rather than locking every user out.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		key := fmt.Sprintf("ratelimit:%s:%s", rl.name, ip)

		count, err := rl.counter.IncrWindow(r.Context(), key, rl.window)
		if err != nil {
			rl.logger.Warn("Rate limit counter unavailable", map[string]interface{}{
				"limiter": rl.name,
				"error":   err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		if count > int64(rl.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.limit-int(count)))

		next.ServeHTTP(w, r)
	})
}
