package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
	"github.com/vidaleve/companion/internal/logging"
)

// RateLimiter applies a fixed-window request quota per client address.
// Counters are process-local; in a multi-instance deployment each instance
// enforces its own quota.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit    int
	interval time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter allowing limit requests per interval
// for each client key.
func NewRateLimiter(limit int, interval time.Duration, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*window),
		limit:    limit,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow reports whether a request from key fits in the current window.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.interval {
		rl.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Handler returns the rate limiting middleware handler, keyed by client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := httputil.ClientIP(r)

		if !rl.Allow(key) {
			rl.logger.Warn("rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)
			serviceErr := errors.RateLimitExceeded(rl.limit, rl.interval.String())
			httputil.TooManyRequests(w, serviceErr.Message)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops windows that ended before the current one started. Called
// periodically from StartCleanup.
func (rl *RateLimiter) Cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.interval {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup runs Cleanup on a ticker until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
