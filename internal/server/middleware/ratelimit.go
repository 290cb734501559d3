package middleware

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/metrics"
	"github.com/piilens/piilens/internal/observability"
)

const (
	// windowSpan is the trailing span over which per-client requests are counted.
	windowSpan = 60 * time.Second

	// shardCount spreads per-client state across independent locks so distinct
	// clients do not contend. Power of two.
	shardCount = 64

	// FallbackClientID groups requests whose peer address cannot be determined.
	FallbackClientID = "unknown_client"
)

// Rejection reasons carried by Decision.Reason.
const (
	ReasonRate    = "rate"
	ReasonBurst   = "burst"
	ReasonBlocked = "blocked"
)

// RateLimiterConfig fixes the limiter's behavior at construction time.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstLimit        int
	BlockDuration     time.Duration
}

// Decision is the outcome of evaluating one request against a client's window.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration

	// Header values, populated only on admission.
	Limit     int
	Remaining int
	Reset     int
}

// limiterShard owns the window and block state for a subset of clients.
// All mutations for a client happen under its shard's mutex.
type limiterShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	blocks  map[string]time.Time
}

// RateLimiter admits or rejects requests based on a per-client sliding window
// and a burst ceiling, temporarily blocking clients that exceed the ceiling.
type RateLimiter struct {
	requestsPerMinute int
	burstLimit        int
	blockDuration     time.Duration

	shards [shardCount]*limiterShard

	// Clock is injectable for tests; defaults to time.Now.
	clock func() time.Time
}

// NewRateLimiter builds a limiter from config, applying defaults for
// non-positive values. A BurstLimit below RequestsPerMinute is honored
// as configured: the burst check fires before the steady-state check.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 100
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}

	rl := &RateLimiter{
		requestsPerMinute: cfg.RequestsPerMinute,
		burstLimit:        cfg.BurstLimit,
		blockDuration:     cfg.BlockDuration,
		clock:             time.Now,
	}
	for i := range rl.shards {
		rl.shards[i] = &limiterShard{
			windows: make(map[string][]time.Time),
			blocks:  make(map[string]time.Time),
		}
	}
	return rl
}

// SetClock overrides the limiter's time source. Test hook.
func (rl *RateLimiter) SetClock(clock func() time.Time) {
	if clock != nil {
		rl.clock = clock
	}
}

func (rl *RateLimiter) shard(clientID string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return rl.shards[h.Sum32()&(shardCount-1)]
}

// Evaluate decides whether a request from clientID is admitted right now.
// Window pruning, block expiry and the append of the current request all
// happen under a single critical section.
func (rl *RateLimiter) Evaluate(clientID string) Decision {
	now := rl.clock()
	sh := rl.shard(clientID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if until, ok := sh.blocks[clientID]; ok {
		if now.Before(until) {
			return Decision{Reason: ReasonBlocked, RetryAfter: until.Sub(now)}
		}
		delete(sh.blocks, clientID)
	}

	window := sh.windows[clientID]
	kept := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < windowSpan {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.burstLimit {
		// The block supersedes the window: clearing it lets the client start
		// fresh once the block expires instead of tripping the ceiling again
		// on its first request back. The triggering request is not counted.
		delete(sh.windows, clientID)
		sh.blocks[clientID] = now.Add(rl.blockDuration)
		rl.logBlock(clientID)
		metrics.RecordRateLimitBlock()
		return Decision{Reason: ReasonBurst, RetryAfter: rl.blockDuration}
	}

	if len(kept) >= rl.requestsPerMinute {
		sh.windows[clientID] = kept
		return Decision{Reason: ReasonRate, RetryAfter: windowSpan - now.Sub(kept[0])}
	}

	kept = append(kept, now)
	sh.windows[clientID] = kept
	return Decision{
		Allowed:   true,
		Limit:     rl.requestsPerMinute,
		Remaining: rl.requestsPerMinute - len(kept),
		Reset:     int(now.Sub(kept[0]).Seconds()),
	}
}

// Middleware enforces admission control. Rejected requests are answered with
// a 429 and never reach the next handler; admitted requests carry the
// X-RateLimit response headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := rl.Evaluate(ClientID(r))
		if !decision.Allowed {
			metrics.RecordRateLimitRejection(decision.Reason)
			writeRateLimited(w, decision)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(decision.Reset))

		next.ServeHTTP(w, r)
	})
}

// StartSweeper periodically deletes empty windows and expired blocks so idle
// client state does not accumulate over long uptimes. Lazy pruning inside
// Evaluate remains the correctness mechanism; the sweep only bounds memory.
// The goroutine exits when ctx is cancelled.
func (rl *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
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
				rl.sweep()
			}
		}
	}()
}

func (rl *RateLimiter) sweep() {
	now := rl.clock()
	for _, sh := range rl.shards {
		sh.mu.Lock()
		for clientID, window := range sh.windows {
			live := 0
			for _, ts := range window {
				if now.Sub(ts) < windowSpan {
					live++
				}
			}
			if live == 0 {
				delete(sh.windows, clientID)
			}
		}
		for clientID, until := range sh.blocks {
			if !now.Before(until) {
				delete(sh.blocks, clientID)
			}
		}
		sh.mu.Unlock()
	}
}

func (rl *RateLimiter) logBlock(clientID string) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Client blocked for burst limit violation",
			zap.String("client_id", clientID),
			zap.Duration("block_duration", rl.blockDuration))
	}
}

// rateLimitedResponse is the 429 body. The shape is part of the API contract.
type rateLimitedResponse struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

func writeRateLimited(w http.ResponseWriter, decision Decision) {
	detail := "Too many requests"
	switch decision.Reason {
	case ReasonBurst:
		detail = "Too many requests - client blocked"
	case ReasonBlocked:
		detail = "Client blocked due to rate limit violation"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rateLimitedResponse{
		Detail:     detail,
		RetryAfter: int(decision.RetryAfter.Seconds()),
	})
}

// ClientID derives the rate-limit partition key from the request's peer
// address. RealIP middleware runs earlier, so RemoteAddr may already be a
// bare IP. Unparseable addresses degrade to the shared fallback identifier.
func ClientID(r *http.Request) string {
	addr := r.RemoteAddr
	if addr == "" {
		return FallbackClientID
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return addr
	}
	return FallbackClientID
}
