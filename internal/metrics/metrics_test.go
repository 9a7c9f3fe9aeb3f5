package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRecordQuotaDecision(t *testing.T) {
	collector := setupTelemetry(t)

	RecordQuotaPurge(0)
	assert.Zero(t, collector.CountMetricsByName(QuotaPurgedTotal))

	RecordQuotaDecision("mint", true)
	RecordQuotaDecision("mint", false)
	RecordQuotaFailover()
	RecordQuotaPurge(3)

	assert.Greater(t, collector.CountMetricsByName(QuotaDecisionsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(QuotaStoreFailoversTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(QuotaPurgedTotal), 0)
}

func TestObserveFetch(t *testing.T) {
	collector := setupTelemetry(t)

	ObserveFetch(engine.FetchEvent{State: engine.StateAttempting, Attempt: 1})
	assert.Zero(t, collector.CountMetricsByName(UpstreamAttemptsTotal))

	ObserveFetch(engine.FetchEvent{State: engine.StateBackoff, Attempt: 1})
	ObserveFetch(engine.FetchEvent{State: engine.StateSucceeded, Attempt: 2})
	assert.Greater(t, collector.CountMetricsByName(UpstreamAttemptsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(UpstreamFetchesTotal), 0)

	attempts := collector.CountMetricsByName(UpstreamAttemptsTotal)
	ObserveFetch(engine.FetchEvent{State: engine.StateExhausted, Err: context.Canceled})
	assert.Equal(t, attempts, collector.CountMetricsByName(UpstreamAttemptsTotal))

	ObserveFetch(engine.FetchEvent{State: engine.StateExhausted, Err: errors.New("502")})
	assert.GreaterOrEqual(t, collector.CountMetricsByName(UpstreamAttemptsTotal), attempts)
}

func TestRecordersWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	RecordQuotaDecision("api", true)
	RecordError("RATE_LIMITED", 429)
	ObserveFetch(engine.FetchEvent{State: engine.StateSucceeded})
}

func TestRecordErrorByEndpointCollapsesUnknownPaths(t *testing.T) {
	assert.Equal(t, "/api/rankings", endpointLabel("/api/rankings"))
	assert.Equal(t, "/api/nfts/{tokenID}", endpointLabel("/api/nfts/4242"))
	assert.Equal(t, "/api/preflight/{useCase}", endpointLabel("/api/preflight/mint"))
	assert.Equal(t, "other", endpointLabel("/wp-login.php"))

	collector := setupTelemetry(t)
	RecordErrorByEndpoint("/api/nfts/7", "UPSTREAM_UNAVAILABLE")
	RecordPanic()
	assert.Greater(t, collector.CountMetricsByName(ErrorsByEndpoint), 0)
	assert.Greater(t, collector.CountMetricsByName(PanicsTotal), 0)
}
