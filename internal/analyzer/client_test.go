package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAnalyze(t *testing.T) {
	var gotReq analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/analyze", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Entity{
			{EntityType: "EMAIL_ADDRESS", Start: 0, End: 16, Score: 0.95},
			{EntityType: "PERSON", Start: 20, End: 24, Score: 0.31},
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, MinScore: 0.5})

	entities, err := client.Analyze(context.Background(), "jane@example.com and Jane", "en")
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com and Jane", gotReq.Text)
	assert.Equal(t, "en", gotReq.Language)

	// Detections below the confidence floor are dropped
	require.Len(t, entities, 1)
	assert.Equal(t, "EMAIL_ADDRESS", entities[0].EntityType)
}

func TestClientAnalyzeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := client.Analyze(context.Background(), "text", "en")
	require.Error(t, err)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	assert.Contains(t, svcErr.Message, "model not loaded")
}

func TestClientAnalyzeUpstream429SetsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, RequestsPerMinute: 100})

	_, err := client.Analyze(context.Background(), "text", "en")
	require.Error(t, err)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)

	// The backoff from the upstream 429 rejects the next call locally
	_, err = client.Analyze(context.Background(), "text", "en")
	require.Error(t, err)
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)
	assert.Contains(t, svcErr.Message, "outbound limit reached")
}

func TestClientAnalyzeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := client.Analyze(context.Background(), "text", "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClientAnalyzeDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := client.Analyze(context.Background(), "text", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(ClientConfig{})
	assert.Equal(t, defaultBaseURL, client.baseURL)
	assert.Nil(t, client.limiter)
	assert.Nil(t, client.pacer)

	paced := NewClient(ClientConfig{PaceRPS: 10, RequestsPerMinute: 60})
	assert.NotNil(t, paced.limiter)
	assert.NotNil(t, paced.pacer)
}
