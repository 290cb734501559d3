package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/piilens/piilens/internal/metrics"
)

const defaultBaseURL = "http://localhost:5002"

// ClientConfig configures the analyzer HTTP client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// MinScore filters out detections below this confidence.
	MinScore float64

	// RequestsPerMinute caps outbound calls per endpoint; PaceRPS smooths
	// them. Zero disables the respective mechanism.
	RequestsPerMinute int
	PaceRPS           float64
}

// Client implements Analyzer against a remote analysis service speaking the
// POST /analyze JSON protocol.
type Client struct {
	baseURL    string
	endpoint   string
	minScore   float64
	httpClient *http.Client
	timeout    time.Duration
	limiter    *OutboundLimiter
	pacer      *rate.Limiter
}

// ServiceError reports a non-2xx response from the analyzer service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("analyzer: status %d: %s", e.StatusCode, e.Message)
}

// NewClient returns a client with defaults applied.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	endpoint := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		endpoint = u.Host
	}

	c := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		endpoint:   endpoint,
		minScore:   cfg.MinScore,
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
	}

	if cfg.RequestsPerMinute > 0 {
		c.limiter = NewOutboundLimiter(map[string]Limit{
			endpoint: {RequestsPerWindow: cfg.RequestsPerMinute, WindowDuration: time.Minute},
		})
	}
	if cfg.PaceRPS > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(cfg.PaceRPS), 1)
	}

	return c
}

// SetHTTPClient overrides the underlying HTTP client. Test hook.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Analyze sends the text to the remote service and returns detections at or
// above the configured confidence floor.
func (c *Client) Analyze(ctx context.Context, text, language string) ([]Entity, error) {
	if c == nil {
		return nil, fmt.Errorf("analyzer client not configured")
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pacing wait: %w", err)
		}
	}

	if c.limiter != nil {
		allowed, wait, err := c.limiter.AllowAndRecord(ctx, c.endpoint)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, &ServiceError{
				StatusCode: http.StatusTooManyRequests,
				Message:    fmt.Sprintf("outbound limit reached, retry in %s", wait.Round(time.Second)),
			}
		}
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	if cancel != nil {
		defer cancel()
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordAnalyzerRequest(false, time.Since(start))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordAnalyzerRequest(false, time.Since(start))
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.limiter != nil {
			_ = c.limiter.Record429(ctx, c.endpoint, retryAfterDuration(resp))
		}
		metrics.RecordAnalyzerRequest(false, time.Since(start))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.RecordAnalyzerRequest(false, time.Since(start))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var detected []Entity
	if err := json.Unmarshal(respBody, &detected); err != nil {
		metrics.RecordAnalyzerRequest(false, time.Since(start))
		return nil, fmt.Errorf("decode response: %w", err)
	}

	metrics.RecordAnalyzerRequest(true, time.Since(start))

	filtered := detected[:0]
	for _, ent := range detected {
		if ent.Score >= c.minScore {
			filtered = append(filtered, ent)
		}
	}
	return filtered, nil
}

func retryAfterDuration(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
