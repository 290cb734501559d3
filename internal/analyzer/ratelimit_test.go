package analyzer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewOutboundLimiter(map[string]Limit{
		"analyzer:5002": {RequestsPerWindow: 2, WindowDuration: time.Minute},
	})
	l.Clock = func() time.Time { return now }

	// Budget of two requests in the window
	for i := 0; i < 2; i++ {
		allowed, _, err := l.AllowAndRecord(ctx, "analyzer:5002")
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i+1)
	}

	allowed, wait, err := l.AllowAndRecord(ctx, "analyzer:5002")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))

	// The window resets after its duration passes
	now = now.Add(2 * time.Minute)
	allowed, _, err = l.AllowAndRecord(ctx, "analyzer:5002")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestOutboundLimiterWindowResetPersists(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewOutboundLimiter(map[string]Limit{
		"ep": {RequestsPerWindow: 1, WindowDuration: time.Minute},
	})
	l.Clock = func() time.Time { return now }

	allowed, _, err := l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	require.True(t, allowed)

	// Crossing into a fresh window stores the new window start
	now = now.Add(2 * time.Minute)
	allowed, _, err = l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	require.True(t, allowed)

	state, err := l.Store.GetLimitState(ctx, "ep")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, now, state.WindowStart)
	assert.Equal(t, 1, state.RequestCount)
}

// Concurrent callers must not overshoot the window: admissions and the
// budget increment happen in one cycle, so exactly RequestsPerWindow
// callers win.
func TestOutboundLimiterConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	const budget = 25
	l := NewOutboundLimiter(map[string]Limit{
		"ep": {RequestsPerWindow: budget, WindowDuration: time.Minute},
	})
	l.Clock = func() time.Time { return now }

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 4*budget; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := l.AllowAndRecord(ctx, "ep")
			assert.NoError(t, err)
			if allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, budget, admitted)

	state, err := l.Store.GetLimitState(ctx, "ep")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, budget, state.RequestCount)
}

func TestOutboundLimiterBackoff(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewOutboundLimiter(nil)
	l.Clock = func() time.Time { return now }

	require.NoError(t, l.Record429(ctx, "ep", 30*time.Second))

	allowed, wait, err := l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, wait)

	// Backoff expires with time
	now = now.Add(31 * time.Second)
	allowed, _, err = l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestOutboundLimiterBackoffDoesNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewOutboundLimiter(nil)
	l.Clock = func() time.Time { return now }

	require.NoError(t, l.Record429(ctx, "ep", time.Minute))

	allowed, _, err := l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	require.False(t, allowed)

	state, err := l.Store.GetLimitState(ctx, "ep")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 0, state.RequestCount)
}

func TestOutboundLimiterDefaultLimit(t *testing.T) {
	l := NewOutboundLimiter(nil)

	limit := l.getLimit("unconfigured")
	assert.Equal(t, defaultLimit, limit)
}

func TestOutboundLimiterNilSafe(t *testing.T) {
	ctx := context.Background()
	var l *OutboundLimiter

	allowed, wait, err := l.AllowAndRecord(ctx, "ep")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, time.Duration(0), wait)

	assert.NoError(t, l.Record429(ctx, "ep", time.Second))
}

func TestMemoryLimitStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLimitStore()

	state := &LimitState{WindowStart: time.Now(), RequestCount: 1}
	require.NoError(t, store.UpdateLimitState(ctx, "ep", state))

	// Mutating the caller's struct after storing must not affect the store
	state.RequestCount = 99

	got, err := store.GetLimitState(ctx, "ep")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RequestCount)

	// Mutating the returned copy must not affect the store either
	got.RequestCount = 42
	again, err := store.GetLimitState(ctx, "ep")
	require.NoError(t, err)
	assert.Equal(t, 1, again.RequestCount)
}
