package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/piilens/piilens/internal/metrics"
)

// maxLatencySamples caps the retained latency history; the oldest sample is
// evicted first once the cap is exceeded.
const maxLatencySamples = 1000

// minAverageResponseTime is reported instead of a true zero so consumers can
// tell "no data yet" from "measured zero latency".
const minAverageResponseTime = 0.001

// Collector observes every request that reaches it and aggregates per-path
// counts, latency samples, error tallies and suspicious-client counts. All
// fields are guarded by a single mutex; locks are never held across the
// downstream call.
type Collector struct {
	mu             sync.Mutex
	requestsByPath map[string]int
	responseTimes  []float64
	errorCounts    map[int]int
	suspicious     map[string]int
}

// Snapshot is a consistent, deep-copied read view of the collector state.
type Snapshot struct {
	TotalRequests        int            `json:"total_requests"`
	RequestsByPath       map[string]int `json:"requests_by_path"`
	AverageResponseTime  float64        `json:"average_response_time"`
	RequestsInLastMinute int            `json:"requests_in_last_minute"`
	ErrorRate            float64        `json:"error_rate"`
	ErrorCounts          map[string]int `json:"error_counts"`
	SuspiciousRequests   map[string]int `json:"suspicious_requests"`
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		requestsByPath: make(map[string]int),
		errorCounts:    make(map[int]int),
		suspicious:     make(map[string]int),
	}
}

// Middleware wraps the downstream handler, timing it and recording the
// outcome. Downstream panics are recorded as 500s and re-raised unchanged;
// this layer observes, it never swallows a failure.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if IsSuspicious(r.URL.Path, r.URL.RawQuery) {
			c.recordSuspicious(ClientID(r))
			metrics.RecordSuspiciousRequest()
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()
			if rec := recover(); rec != nil {
				c.record(r.URL.Path, duration, http.StatusInternalServerError)
				panic(rec)
			}
			status := wrapped.statusCode
			if r.Context().Err() != nil && status < http.StatusBadRequest {
				// A cancelled or timed-out downstream call still counts,
				// classified as a server error.
				status = http.StatusInternalServerError
			}
			c.record(r.URL.Path, duration, status)
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// record lands the path count, latency sample and error tally as one atomic
// update group.
func (c *Collector) record(path string, duration float64, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsByPath[path]++
	c.responseTimes = append(c.responseTimes, duration)
	if len(c.responseTimes) > maxLatencySamples {
		c.responseTimes = c.responseTimes[len(c.responseTimes)-maxLatencySamples:]
	}
	if status >= http.StatusBadRequest {
		c.errorCounts[status]++
	}
}

func (c *Collector) recordSuspicious(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspicious[clientID]++
}

// Snapshot returns a deep copy of the current state. The total is recomputed
// from the per-path counts so the two can never drift apart.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	byPath := make(map[string]int, len(c.requestsByPath))
	for path, count := range c.requestsByPath {
		byPath[path] = count
		total += count
	}

	errorTotal := 0
	errCounts := make(map[string]int, len(c.errorCounts))
	for status, count := range c.errorCounts {
		errCounts[strconv.Itoa(status)] = count
		errorTotal += count
	}

	suspicious := make(map[string]int, len(c.suspicious))
	for clientID, count := range c.suspicious {
		suspicious[clientID] = count
	}

	avg := minAverageResponseTime
	if len(c.responseTimes) > 0 {
		sum := 0.0
		for _, d := range c.responseTimes {
			sum += d
		}
		avg = math.Max(sum/float64(len(c.responseTimes)), minAverageResponseTime)
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errorTotal) / float64(total)
	}

	return Snapshot{
		TotalRequests:        total,
		RequestsByPath:       byPath,
		AverageResponseTime:  round3(avg),
		RequestsInLastMinute: len(c.responseTimes),
		ErrorRate:            round3(errorRate),
		ErrorCounts:          errCounts,
		SuspiciousRequests:   suspicious,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
