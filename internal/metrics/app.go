package metrics

import (
	"time"

	"github.com/kektech/kektech/internal/observability"
)

// Application metric names. The telemetry namespace is prefixed by the
// exporter.
const (
	QuotaDecisionsTotal      = "quota_decisions_total"
	QuotaStoreFailoversTotal = "quota_store_failovers_total"
	QuotaPurgedTotal         = "quota_windows_purged_total"

	UpstreamAttemptsTotal = "upstream_attempts_total"
	UpstreamFetchesTotal  = "upstream_fetches_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
)

// count emits a counter when telemetry is initialized and drops it otherwise.
func count(name string, value float64, labels map[string]string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(name, value, labels)
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordQuotaDecision records an admission outcome for a use-case.
func RecordQuotaDecision(useCase string, admitted bool) {
	count(QuotaDecisionsTotal, 1, map[string]string{
		"use_case": useCase,
		"outcome":  outcome(admitted, "admitted", "rejected"),
	})
}

// RecordQuotaFailover records a decision taken by the local fallback store.
func RecordQuotaFailover() {
	count(QuotaStoreFailoversTotal, 1, nil)
}

// RecordQuotaPurge records windows removed by the housekeeping sweep.
func RecordQuotaPurge(removed int64) {
	if removed <= 0 {
		return
	}
	count(QuotaPurgedTotal, float64(removed), nil)
}

// RecordUpstreamAttempt records the outcome of one outbound attempt.
func RecordUpstreamAttempt(success bool) {
	count(UpstreamAttemptsTotal, 1, map[string]string{
		"outcome": outcome(success, "success", "failure"),
	})
}

// RecordUpstreamFetch records a completed retry sequence.
func RecordUpstreamFetch(status string) {
	count(UpstreamFetchesTotal, 1, map[string]string{"status": status})
}

// RecordHealthCheck records a health check execution and its latency.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	count(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
	}
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
