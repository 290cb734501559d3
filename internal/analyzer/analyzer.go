// Package analyzer provides the client for the remote text-analysis service.
// The engine itself is opaque: it accepts text plus a language code and
// returns detected PII spans with type, offsets and confidence.
package analyzer

import "context"

// Entity is one detected PII span. Offsets are rune positions into the
// analyzed text.
type Entity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Analyzer detects PII entities in text.
type Analyzer interface {
	Analyze(ctx context.Context, text, language string) ([]Entity, error)
}
