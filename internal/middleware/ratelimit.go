package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// CallerKey builds the limiter key from the caller address and the
// credential prefix.
func CallerKey(callerAddr, keyPrefix string) string {
	return fmt.Sprintf("%s|%s", callerAddr, keyPrefix)
}

type windowCounter struct {
	count       int
	windowStart time.Time
}

// FixedWindowLimiter throttles per-caller request volume with a fixed
// window: the counter resets wholesale once the window elapses. Not a
// sliding window and not a token bucket; an undercounted race between two
// concurrent requests from the same caller is an accepted best-effort
// limitation.
type FixedWindowLimiter struct {
	enabled bool
	limit   int
	window  time.Duration
	logger  *logrus.Logger

	mu       sync.Mutex
	counters map[string]*windowCounter

	// now is injectable for tests.
	now func() time.Time

	cleanupInterval time.Duration
}

// NewRateLimiter creates a new fixed-window rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) RateLimiter {
	if !cfg.Enabled {
		return &FixedWindowLimiter{enabled: false}
	}

	rl := &FixedWindowLimiter{
		enabled:         true,
		limit:           cfg.RequestsPerWindow,
		window:          cfg.Window,
		logger:          logger,
		counters:        make(map[string]*windowCounter),
		now:             time.Now,
		cleanupInterval: 1 * time.Hour,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a caller is allowed to make a request
func (r *FixedWindowLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.counters[key]
	if !exists || now.Sub(c.windowStart) >= r.window {
		c = &windowCounter{windowStart: now}
		r.counters[key] = c
	}

	if c.count >= r.limit {
		r.logger.WithField("key", key).Warn("Rate limit exceeded")
		return false
	}

	c.count++
	return true
}

// Reset resets the counter for a caller
func (r *FixedWindowLimiter) Reset(key string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.counters, key)
	r.mu.Unlock()
}

// cleanup drops counters whose window expired long ago
func (r *FixedWindowLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := r.now().Add(-2 * r.window)

		r.mu.Lock()
		for key, c := range r.counters {
			if c.windowStart.Before(cutoff) {
				delete(r.counters, key)
			}
		}
		r.mu.Unlock()
	}
}
