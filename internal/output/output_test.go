package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piilens/piilens/internal/analyzer"
	"github.com/piilens/piilens/internal/server/middleware"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"TABLE", FormatTable, false},
		{"json", FormatJSON, false},
		{" json ", FormatJSON, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestTableFormatAnalysis(t *testing.T) {
	report := &AnalysisReport{
		Text:     "Call me at 555-123-4567 please",
		Language: "en",
		Entities: []analyzer.Entity{
			{EntityType: "PHONE_NUMBER", Start: 11, End: 23, Score: 0.75},
		},
	}

	f := &TableFormatter{}
	rendered, err := f.FormatAnalysis(report)
	require.NoError(t, err)

	assert.Contains(t, rendered, "PHONE_NUMBER")
	assert.Contains(t, rendered, "555-123-4567")
	assert.Contains(t, rendered, "11-23")
	assert.Contains(t, rendered, "1 entities")
}

func TestTableFormatMetrics(t *testing.T) {
	snapshot := &middleware.Snapshot{
		TotalRequests:        7,
		RequestsByPath:       map[string]int{"/api/v1/analyze": 5, "/metrics": 2},
		AverageResponseTime:  0.042,
		RequestsInLastMinute: 7,
		ErrorRate:            0.143,
		ErrorCounts:          map[string]int{"500": 1},
		SuspiciousRequests:   map[string]int{"10.0.0.9": 3},
	}

	f := &TableFormatter{}
	rendered, err := f.FormatMetrics(snapshot)
	require.NoError(t, err)

	assert.Contains(t, rendered, "Total requests")
	assert.Contains(t, rendered, "/api/v1/analyze")
	assert.Contains(t, rendered, "0.042")
	assert.Contains(t, rendered, "500")
	assert.Contains(t, rendered, "10.0.0.9")
}

func TestJSONFormatAnalysis(t *testing.T) {
	report := &AnalysisReport{
		Text:     "jane@example.com",
		Language: "en",
		Entities: []analyzer.Entity{
			{EntityType: "EMAIL_ADDRESS", Start: 0, End: 16, Score: 0.99},
		},
	}

	f := &JSONFormatter{Indent: true}
	rendered, err := f.FormatAnalysis(report)
	require.NoError(t, err)

	assert.Contains(t, rendered, `"EMAIL_ADDRESS"`)
	assert.Contains(t, rendered, `"language": "en"`)
	// The input text carries PII and must never leak into JSON output
	assert.NotContains(t, rendered, "jane@example.com")
}

func TestSpanText(t *testing.T) {
	text := "héllo wörld"

	assert.Equal(t, "héllo", spanText(text, 0, 5))
	assert.Equal(t, "wörld", spanText(text, 6, 11))
	assert.Equal(t, "", spanText(text, 9, 20))
	assert.Equal(t, "", spanText(text, -1, 3))
	assert.Equal(t, "", spanText(text, 4, 4))
}
