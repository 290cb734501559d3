package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"

	"github.com/piilens/piilens/internal/analyzer"
	apperrors "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/observability"
	servermw "github.com/piilens/piilens/internal/server/middleware"
)

type staticAnalyzer struct {
	entities []analyzer.Entity
	err      error
}

func (s staticAnalyzer) Analyze(ctx context.Context, text, language string) ([]analyzer.Entity, error) {
	return s.entities, s.err
}

func newTestServer(opts Options) *Server {
	if opts.RateLimit.RequestsPerMinute == 0 {
		opts.RateLimit = servermw.RateLimiterConfig{
			RequestsPerMinute: 100,
			BurstLimit:        100,
			BlockDuration:     0,
		}
	}
	return New(opts)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServerRejectsDisallowedMethods(t *testing.T) {
	srv := newTestServer(Options{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/analyze", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("expected error code METHOD_NOT_ALLOWED, got %s", body.Error.Code)
	}
}

func TestServerRootEndpoint(t *testing.T) {
	srv := newTestServer(Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body["status"])
	}
}

func TestServerAppliesSecurityHeaders(t *testing.T) {
	srv := newTestServer(Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Fatalf("expected header %s=%q, got %q", name, want, got)
		}
	}
}

func TestServerSetsRateLimitHeaders(t *testing.T) {
	srv := newTestServer(Options{RateLimit: servermw.RateLimiterConfig{
		RequestsPerMinute: 10,
		BurstLimit:        10,
	}})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.RemoteAddr = "203.0.113.7:55100"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("expected X-RateLimit-Limit 10, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("expected X-RateLimit-Remaining 9, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected X-RateLimit-Reset to be set")
	}
}

func TestServerRateLimitsExcessTraffic(t *testing.T) {
	srv := newTestServer(Options{RateLimit: servermw.RateLimiterConfig{
		RequestsPerMinute: 2,
		BurstLimit:        100,
	}})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.8:55200"
		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 on third request, got %d", rec.Code)
	}

	var body struct {
		Detail     string `json:"detail"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Detail != "Too many requests" {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
	if body.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", body.RetryAfter)
	}
}

func TestServerAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(Options{
		Analyzer: staticAnalyzer{entities: []analyzer.Entity{
			{EntityType: "EMAIL_ADDRESS", Start: 0, End: 16, Score: 0.9},
		}},
		DefaultLanguage: "en",
		MaxTextLength:   1000,
	})

	body := `{"text":"jane@example.com called"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:55300"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Entities []struct {
			EntityType string `json:"entity_type"`
			Text       string `json:"text"`
		} `json:"entities"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Entities) != 1 || resp.Entities[0].Text != "jane@example.com" {
		t.Fatalf("unexpected entities %+v", resp.Entities)
	}
}

func TestServerMetricsEndpointObservesTraffic(t *testing.T) {
	srv := newTestServer(Options{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.10:55400"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.10:55400"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}

	var snap servermw.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}

	if snap.RequestsByPath["/"] != 3 {
		t.Fatalf("expected 3 requests recorded for /, got %d", snap.RequestsByPath["/"])
	}
	// The /metrics request itself is recorded only after its handler has
	// written the snapshot, so it is absent from its own totals.
	if snap.TotalRequests != 3 {
		t.Fatalf("expected total of 3 requests, got %d", snap.TotalRequests)
	}
	if snap.AverageResponseTime <= 0 {
		t.Fatalf("expected positive average response time, got %f", snap.AverageResponseTime)
	}
}

func TestServerTracksSuspiciousRequests(t *testing.T) {
	srv := newTestServer(Options{})

	req := httptest.NewRequest(http.MethodGet, "/files/../../secret", nil)
	req.RemoteAddr = "203.0.113.11:55500"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	snap := srv.Collector().Snapshot()
	if snap.SuspiciousRequests["203.0.113.11"] != 1 {
		t.Fatalf("expected 1 suspicious request for client, got %d", snap.SuspiciousRequests["203.0.113.11"])
	}
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(ctx context.Context, text, language string) ([]analyzer.Entity, error) {
	panic("analyzer backend wedged")
}

func TestServerCountsPanickedRequests(t *testing.T) {
	fake := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: fake})
	if err != nil {
		t.Fatalf("failed to build telemetry system: %v", err)
	}
	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	defer func() {
		observability.TelemetrySystem = originalTelemetry
	}()

	srv := newTestServer(Options{Analyzer: panickingAnalyzer{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if fake.CountMetricsByName("http_requests_total") == 0 {
		t.Fatal("expected the panicked request to show up in http_requests_total")
	}
	if fake.CountMetricsByName("http_errors_total") == 0 {
		t.Fatal("expected the recovered 500 to show up in http_errors_total")
	}
	if fake.CountMetricsByName("panics_total") == 0 {
		t.Fatal("expected the recovery to show up in panics_total")
	}
}
