package governance

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCheckAndRecordLimitsThirdRequest(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 2, Window: time.Minute})

	assert.False(t, rl.CheckAndRecord("client-a"))
	assert.False(t, rl.CheckAndRecord("client-a"))
	assert.True(t, rl.CheckAndRecord("client-a"))

	// Other identifiers are unaffected.
	assert.False(t, rl.CheckAndRecord("client-b"))
}

func TestLimitedRequestDoesNotExtendWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 1, Window: 100 * time.Millisecond})

	require.False(t, rl.CheckAndRecord("client"))
	require.True(t, rl.CheckAndRecord("client"))

	// The rejected request must not have been recorded, so once the first
	// timestamp ages out the client is allowed again.
	time.Sleep(150 * time.Millisecond)
	assert.False(t, rl.CheckAndRecord("client"))
}

func TestWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 2, Window: 80 * time.Millisecond})

	require.False(t, rl.CheckAndRecord("client"))
	require.False(t, rl.CheckAndRecord("client"))
	require.True(t, rl.CheckAndRecord("client"))

	time.Sleep(120 * time.Millisecond)
	assert.False(t, rl.CheckAndRecord("client"))
}

func TestRemaining(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 3, Window: time.Minute})

	assert.Equal(t, 3, rl.Remaining("client"))
	rl.CheckAndRecord("client")
	assert.Equal(t, 2, rl.Remaining("client"))
	rl.CheckAndRecord("client")
	rl.CheckAndRecord("client")
	assert.Equal(t, 0, rl.Remaining("client"))
}

func TestConfigureAppliesDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	assert.Equal(t, 60, rl.Limit())
	assert.Equal(t, time.Minute, rl.Window())
}

func TestConfigureHotSwap(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 1, Window: time.Minute})

	require.False(t, rl.CheckAndRecord("client"))
	require.True(t, rl.CheckAndRecord("client"))

	rl.Configure(RateLimiterConfig{Limit: 5, Window: time.Minute})
	assert.False(t, rl.CheckAndRecord("client"))
}

func TestSweepEvictsStaleWindows(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 10, Window: 50 * time.Millisecond})

	rl.CheckAndRecord("stale")
	rl.CheckAndRecord("also-stale")

	time.Sleep(80 * time.Millisecond)
	rl.CheckAndRecord("fresh")

	evicted := rl.Sweep()
	assert.Equal(t, 2, evicted)

	stats := rl.Stats()
	assert.Len(t, stats, 1)
	assert.Contains(t, stats, "fresh")
}

func TestStatsReportsInWindowCounts(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 10, Window: time.Minute})

	rl.CheckAndRecord("client")
	rl.CheckAndRecord("client")

	stats := rl.Stats()
	require.Contains(t, stats, "client")
	assert.Equal(t, 2, stats["client"].Count)
	assert.NotEmpty(t, stats["client"].OldestEntry)
}

func TestWriteRateLimitHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	reset := time.Unix(1700000000, 0)

	WriteRateLimitHeaders(rec, 60, 12, reset)

	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "12", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", rec.Header().Get("X-RateLimit-Reset"))
}

// Property: for any limit, exactly the first `limit` requests inside a window
// are allowed and every request after that is rejected.
func TestLimitBoundaryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(t, "limit")
		extra := rapid.IntRange(1, 20).Draw(t, "extra")

		rl := NewRateLimiter(RateLimiterConfig{Limit: limit, Window: time.Hour})

		for i := 0; i < limit; i++ {
			if rl.CheckAndRecord("client") {
				t.Fatalf("request %d rejected below limit %d", i+1, limit)
			}
		}
		for i := 0; i < extra; i++ {
			if !rl.CheckAndRecord("client") {
				t.Fatalf("request above limit %d was allowed", limit)
			}
		}
	})
}

// Property: identifiers never share state.
func TestIdentifierIsolationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clients := rapid.IntRange(2, 30).Draw(t, "clients")
		rl := NewRateLimiter(RateLimiterConfig{Limit: 1, Window: time.Hour})

		for i := 0; i < clients; i++ {
			id := fmt.Sprintf("client-%d", i)
			if rl.CheckAndRecord(id) {
				t.Fatalf("first request for %s rejected", id)
			}
		}
	})
}
