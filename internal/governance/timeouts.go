package governance

import (
	"context"
	"fmt"
	"io"
	"time"
)

// TimeoutConfig defines timeout behavior for upstream exchanges. The gateway
// performs no automatic retries: a failed or timed-out fetch terminates the
// client response.
type TimeoutConfig struct {
	// RequestTimeout is the maximum duration for a complete buffered exchange.
	RequestTimeout time.Duration
	// IdleTimeout is the maximum time between bytes during streaming.
	IdleTimeout time.Duration
	// AbsoluteTimeout is the maximum total duration for streamed transfers.
	AbsoluteTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		RequestTimeout:  30 * time.Second,
		IdleTimeout:     60 * time.Second,
		AbsoluteTimeout: 5 * time.Minute,
	}
}

// TimeoutManager enforces timeout policies on upstream fetches.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	defaults := DefaultTimeoutConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.AbsoluteTimeout <= 0 {
		config.AbsoluteTimeout = defaults.AbsoluteTimeout
	}

	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// WithRequestTimeout creates a context bounded by the request timeout.
func (tm *TimeoutManager) WithRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.RequestTimeout)
}

// WithStreamingTimeout creates a context bounded by the absolute streaming timeout.
func (tm *TimeoutManager) WithStreamingTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.AbsoluteTimeout)
}

// IdleTimeoutReader wraps an io.Reader to enforce idle timeouts between reads.
// A stalled upstream fails the copy instead of holding the client connection open.
type IdleTimeoutReader struct {
	reader      io.Reader
	idleTimeout time.Duration
	lastRead    time.Time
}

// NewIdleTimeoutReader creates a reader that enforces an idle timeout.
func NewIdleTimeoutReader(r io.Reader, idleTimeout time.Duration) *IdleTimeoutReader {
	return &IdleTimeoutReader{
		reader:      r,
		idleTimeout: idleTimeout,
		lastRead:    time.Now(),
	}
}

// Read implements io.Reader with idle timeout enforcement.
func (r *IdleTimeoutReader) Read(p []byte) (int, error) {
	if time.Since(r.lastRead) > r.idleTimeout {
		return 0, fmt.Errorf("idle timeout exceeded after %v", r.idleTimeout)
	}

	n, err := r.reader.Read(p)
	if n > 0 {
		r.lastRead = time.Now()
	}

	return n, err
}
