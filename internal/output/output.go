package output

import (
	"fmt"
	"strings"

	"github.com/piilens/piilens/internal/analyzer"
	"github.com/piilens/piilens/internal/server/middleware"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// AnalysisReport is what the analyze command renders: the input text
// plus the entities the backend detected in it.
type AnalysisReport struct {
	Text     string            `json:"-"`
	Language string            `json:"language"`
	Entities []analyzer.Entity `json:"entities"`
}

// Formatter renders analysis reports and metrics snapshots.
type Formatter interface {
	FormatAnalysis(report *AnalysisReport) (string, error)
	FormatMetrics(snapshot *middleware.Snapshot) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	default:
		return &TableFormatter{}
	}
}

// spanText extracts the characters an entity covers. Offsets are rune
// based, matching what the analyzer backend reports.
func spanText(text string, start, end int) string {
	runes := []rune(text)
	if start < 0 || end > len(runes) || start >= end {
		return ""
	}
	return string(runes[start:end])
}
