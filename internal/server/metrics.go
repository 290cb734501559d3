package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/observability"
)

// metricsHandler serves the aggregated request metrics snapshot as JSON.
// Unlike the Prometheus exporter on the telemetry port, this endpoint
// reports the in-process collector's view of admitted traffic.
func (s *Server) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := s.collector.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			// Headers are already out, so log rather than rewrite the response.
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("Failed to encode metrics snapshot",
					zap.Error(err))
			}
		}
	}
}
