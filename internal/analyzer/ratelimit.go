package analyzer

import (
	"context"
	"sync"
	"time"
)

// OutboundLimiter enforces per-endpoint limits on calls to the analysis
// service, with backoff windows applied after upstream 429s.
type OutboundLimiter struct {
	Store  LimitStore
	Limits map[string]Limit
	Clock  func() time.Time

	// mu serializes read-modify-write cycles against the store so
	// concurrent callers cannot lose increments.
	mu sync.Mutex
}

// Limit represents an outbound rate limit window.
type Limit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// LimitState tracks one endpoint's current window and backoff.
type LimitState struct {
	WindowStart  time.Time
	RequestCount int
	Last429At    *time.Time
	BackoffUntil *time.Time
}

// LimitStore stores outbound limit state.
type LimitStore interface {
	GetLimitState(ctx context.Context, endpoint string) (*LimitState, error)
	UpdateLimitState(ctx context.Context, endpoint string, state *LimitState) error
}

// defaultLimit applies to endpoints with no configured limit.
var defaultLimit = Limit{RequestsPerWindow: 120, WindowDuration: time.Minute}

// NewOutboundLimiter builds a limiter backed by an in-memory store.
func NewOutboundLimiter(limits map[string]Limit) *OutboundLimiter {
	return &OutboundLimiter{
		Store:  NewMemoryLimitStore(),
		Limits: limits,
	}
}

// AllowAndRecord admits a request against the endpoint's window and, when
// admitted, consumes one unit of its budget in the same store cycle.
// Returns the wait duration when the request is rejected. Store errors
// fail open.
func (l *OutboundLimiter) AllowAndRecord(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if l == nil || l.Store == nil {
		return true, 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.Store.GetLimitState(ctx, endpoint)
	if err != nil {
		return true, 0, err
	}
	if state == nil {
		state = &LimitState{WindowStart: l.now()}
	}

	if state.BackoffUntil != nil && l.now().Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(l.now()), nil
	}

	limit := l.getLimit(endpoint)
	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if l.now().After(windowEnd) {
		state.RequestCount = 0
		state.WindowStart = l.now()
		windowEnd = state.WindowStart.Add(limit.WindowDuration)
	}

	if state.RequestCount >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(l.now()), nil
	}

	state.RequestCount++
	if err := l.Store.UpdateLimitState(ctx, endpoint, state); err != nil {
		return true, 0, err
	}

	return true, 0, nil
}

// Record429 applies a backoff window from a 429 response.
func (l *OutboundLimiter) Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	if l == nil || l.Store == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.Store.GetLimitState(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		state = &LimitState{WindowStart: l.now()}
	}

	now := l.now()
	state.Last429At = &now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
	}

	return l.Store.UpdateLimitState(ctx, endpoint, state)
}

func (l *OutboundLimiter) getLimit(endpoint string) Limit {
	if l == nil {
		return defaultLimit
	}
	if limit, ok := l.Limits[endpoint]; ok {
		return limit
	}
	return defaultLimit
}

func (l *OutboundLimiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

// MemoryLimitStore keeps limit state in process memory. Persisting outbound
// windows across restarts is deliberately out of scope.
type MemoryLimitStore struct {
	mu     sync.Mutex
	states map[string]*LimitState
}

// NewMemoryLimitStore creates an empty store.
func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{states: make(map[string]*LimitState)}
}

// GetLimitState returns a copy of the endpoint's state, or nil if absent.
func (s *MemoryLimitStore) GetLimitState(ctx context.Context, endpoint string) (*LimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[endpoint]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// UpdateLimitState stores the endpoint's state.
func (s *MemoryLimitStore) UpdateLimitState(ctx context.Context, endpoint string, state *LimitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.states[endpoint] = &copied
	return nil
}
