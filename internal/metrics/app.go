package metrics

import (
	"time"

	"github.com/piilens/piilens/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Admission control metrics
	RateLimitRejectionsTotal = "ratelimit_rejections_total"
	RateLimitBlocksTotal     = "ratelimit_blocks_total"
	SuspiciousRequestsTotal  = "suspicious_requests_total"

	// Analyzer collaborator metrics
	AnalyzerRequestsTotal   = "analyzer_requests_total"
	AnalyzerRequestDuration = "analyzer_request_duration_ms"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
)

// RecordRateLimitRejection records a rejected request with the rejection reason
// ("rate", "burst" or "blocked").
func RecordRateLimitRejection(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitRejectionsTotal,
			1,
			map[string]string{
				"reason": reason,
			},
		)
	}
}

// RecordRateLimitBlock records a newly imposed client block.
func RecordRateLimitBlock() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitBlocksTotal,
			1,
			nil,
		)
	}
}

// RecordSuspiciousRequest records a request matching a known attack signature.
func RecordSuspiciousRequest() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SuspiciousRequestsTotal,
			1,
			nil,
		)
	}
}

// RecordAnalyzerRequest records an outbound analyzer call with its outcome.
func RecordAnalyzerRequest(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AnalyzerRequestsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			AnalyzerRequestDuration,
			duration,
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}
