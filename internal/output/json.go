package output

import (
	"encoding/json"

	"github.com/piilens/piilens/internal/server/middleware"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatAnalysis renders an analysis report as JSON.
func (f *JSONFormatter) FormatAnalysis(report *AnalysisReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatMetrics renders a metrics snapshot as JSON.
func (f *JSONFormatter) FormatMetrics(snapshot *middleware.Snapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	return f.marshal(snapshot)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
