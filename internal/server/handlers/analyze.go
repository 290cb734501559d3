package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/analyzer"
	apperrors "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/observability"
)

const defaultMaxTextLength = 102400

// AnalyzeAPI serves the text analysis endpoints.
type AnalyzeAPI struct {
	Analyzer        analyzer.Analyzer
	DefaultLanguage string
	MaxTextLength   int
}

// AnalyzeRequest is the request body for single-text analysis.
type AnalyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// BatchAnalyzeRequest is the request body for batch analysis.
type BatchAnalyzeRequest struct {
	Texts    []string `json:"texts"`
	Language string   `json:"language,omitempty"`
}

// EntityResult is a detected entity with the matched text extracted.
type EntityResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// AnalyzeResponse is the response body for single-text analysis.
type AnalyzeResponse struct {
	Entities   []EntityResult `json:"entities"`
	TextLength int            `json:"text_length"`
	Language   string         `json:"language"`
}

// BatchAnalyzeResponse is the response body for batch analysis. Results
// are positional: Results[i] corresponds to Texts[i].
type BatchAnalyzeResponse struct {
	Results []AnalyzeResponse `json:"results"`
}

// AnalyzeHandler handles POST /api/v1/analyze.
func (a *AnalyzeAPI) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	if err := a.validateText(req.Text); err != nil {
		respondWithError(w, r, err)
		return
	}

	response, err := a.analyzeOne(r.Context(), req.Text, a.resolveLanguage(req.Language))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// BatchAnalyzeHandler handles POST /api/v1/analyze/batch. Individual
// text failures degrade to empty entity lists so one bad item does not
// fail the whole batch.
func (a *AnalyzeAPI) BatchAnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	if len(req.Texts) == 0 {
		respondWithError(w, r, apperrors.NewValidationError("Field 'texts' must contain at least one entry"))
		return
	}

	if a.Analyzer == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Analyzer backend is not configured"))
		return
	}

	language := a.resolveLanguage(req.Language)
	results := make([]AnalyzeResponse, 0, len(req.Texts))
	for i, text := range req.Texts {
		if err := a.validateText(text); err != nil {
			respondWithError(w, r, err)
			return
		}

		result, err := a.analyzeOne(r.Context(), text, language)
		if err != nil {
			if observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Batch item analysis failed, returning empty entities",
					zap.Int("index", i),
					zap.Error(err))
			}
			result = AnalyzeResponse{
				Entities:   []EntityResult{},
				TextLength: len([]rune(text)),
				Language:   language,
			}
		}
		results = append(results, result)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(BatchAnalyzeResponse{Results: results})
}

func (a *AnalyzeAPI) analyzeOne(ctx context.Context, text, language string) (AnalyzeResponse, error) {
	if a.Analyzer == nil {
		return AnalyzeResponse{}, apperrors.NewServiceUnavailableError("Analyzer backend is not configured")
	}

	entities, err := a.Analyzer.Analyze(ctx, text, language)
	if err != nil {
		return AnalyzeResponse{}, a.mapAnalyzerError(ctx, err)
	}

	runes := []rune(text)
	results := make([]EntityResult, 0, len(entities))
	for _, e := range entities {
		results = append(results, EntityResult{
			EntityType: e.EntityType,
			Start:      e.Start,
			End:        e.End,
			Score:      e.Score,
			Text:       extractSpan(runes, e.Start, e.End),
		})
	}

	return AnalyzeResponse{
		Entities:   results,
		TextLength: len(runes),
		Language:   language,
	}, nil
}

func (a *AnalyzeAPI) mapAnalyzerError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapTimeout(ctx, err, "Analyzer backend did not respond in time")
	}

	var svcErr *analyzer.ServiceError
	if errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewServiceUnavailableError("Analyzer backend is throttling requests")
	}

	return apperrors.WrapExternalService(ctx, err, "Analyzer backend request failed")
}

func (a *AnalyzeAPI) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.NewValidationError("Field 'text' must not be empty")
	}

	maxLen := a.MaxTextLength
	if maxLen <= 0 {
		maxLen = defaultMaxTextLength
	}
	if n := len([]rune(text)); n > maxLen {
		return apperrors.NewTextTooLargeError(
			fmt.Sprintf("Text length %d exceeds the maximum of %d characters", n, maxLen))
	}

	return nil
}

func (a *AnalyzeAPI) resolveLanguage(language string) string {
	if language != "" {
		return language
	}
	if a.DefaultLanguage != "" {
		return a.DefaultLanguage
	}
	return "en"
}

// extractSpan returns the text covered by a character offset range.
// Offsets from the analyzer are character based, so the slice operates
// on runes rather than bytes. Out of range offsets yield an empty string.
func extractSpan(runes []rune, start, end int) string {
	if start < 0 || end > len(runes) || start >= end {
		return ""
	}
	return string(runes[start:end])
}
