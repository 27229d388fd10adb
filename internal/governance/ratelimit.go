package governance

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines the sliding-window limit shared by all clients.
type RateLimiterConfig struct {
	// Limit is the maximum number of requests per identifier inside the window.
	Limit int
	// Window is the trailing interval requests are counted over.
	Window time.Duration
}

// RateLimiter implements best-effort sliding-window rate limiting keyed by a
// client identifier. State lives in process memory only: a restart resets all
// windows, and horizontally scaled instances do not share counts. Both are
// accepted degradations, not bugs.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string][]time.Time),
	}
	rl.Configure(cfg)
	return rl
}

// Configure updates the limit and window. Existing per-identifier windows are
// kept; the new settings apply from the next check.
func (rl *RateLimiter) Configure(cfg RateLimiterConfig) {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = cfg.Limit
	rl.window = cfg.Window
}

// CheckAndRecord reports whether the identifier is over its limit.
// Returns true when the request must be rejected. When allowed, the current
// timestamp is recorded against the identifier; when limited, the window is
// left unmodified.
func (rl *RateLimiter) CheckAndRecord(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := keepRecent(rl.windows[identifier], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		return true
	}

	rl.windows[identifier] = append(recent, now)
	return false
}

// Remaining returns how many requests the identifier has left in the current
// window, for X-RateLimit-Remaining headers.
func (rl *RateLimiter) Remaining(identifier string) int {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	used := len(keepRecent(rl.windows[identifier], now.Add(-rl.window)))
	if used >= rl.limit {
		return 0
	}
	return rl.limit - used
}

// Limit returns the currently configured per-window request limit.
func (rl *RateLimiter) Limit() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limit
}

// Window returns the currently configured trailing window.
func (rl *RateLimiter) Window() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.window
}

// RateLimitStats exposes the current state of one identifier's window.
type RateLimitStats struct {
	Count       int    `json:"count"`
	OldestEntry string `json:"oldestEntry"`
}

// Stats returns the in-window request count per identifier.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := make(map[string]RateLimitStats, len(rl.windows))
	for identifier, window := range rl.windows {
		recent := keepRecent(window, now.Add(-rl.window))
		if len(recent) == 0 {
			continue
		}
		stats[identifier] = RateLimitStats{
			Count:       len(recent),
			OldestEntry: recent[0].Format(time.RFC3339),
		}
	}
	return stats
}

// Sweep drops identifiers whose windows contain no recent entries and returns
// how many were evicted. Without this the map grows without bound across
// distinct identifiers.
func (rl *RateLimiter) Sweep() int {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for identifier, window := range rl.windows {
		recent := keepRecent(window, now.Add(-rl.window))
		if len(recent) == 0 {
			delete(rl.windows, identifier)
			evicted++
			continue
		}
		rl.windows[identifier] = recent
	}
	return evicted
}

// StartSweeper runs Sweep on the given interval until the context is
// cancelled. onSweep, when non-nil, receives each sweep's eviction count.
func (rl *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(evicted int)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := rl.Sweep()
				if onSweep != nil {
					onSweep(evicted)
				}
			}
		}
	}()
}

// keepRecent returns the suffix of window with timestamps after cutoff.
// Timestamps are appended in order, so a single scan for the first recent
// entry suffices.
func keepRecent(window []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range window {
		if ts.After(cutoff) {
			return window[i:]
		}
	}
	return nil
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetTime time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
