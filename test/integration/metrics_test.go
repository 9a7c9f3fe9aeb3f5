package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/quota"
	"github.com/kektech/kektech/internal/core/rankings"
	"github.com/kektech/kektech/internal/metrics"
	"github.com/kektech/kektech/internal/observability"
	"github.com/kektech/kektech/internal/server"
	"github.com/kektech/kektech/internal/server/handlers"
)

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", config.MetricsConfig{Enabled: true}, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	t.Cleanup(func() { _ = observability.ShutdownMetrics() })
}

func listenOrSkip(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

// newUpstream serves a small rankings collection; requests for token 13
// always fail so retries and exhaustion show up in the metrics.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/kektech/rankings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nfts":[{"token_id":"1","rank":1},{"token_id":"2","rank":2}]}`))
	})
	mux.HandleFunc("/collections/kektech/nfts/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/13") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Kek"}`))
	})

	upstream := httptest.NewUnstartedServer(mux)
	upstream.Listener.Close()
	upstream.Listener = listenOrSkip(t)
	upstream.Start()
	t.Cleanup(upstream.Close)
	return upstream
}

// newGateway wires the server the way serve does, with an in-memory quota
// store and a fetcher that reports to internal/metrics.
func newGateway(t *testing.T, upstreamURL string, quotas map[core.UseCase]core.QuotaConfig) (*httptest.Server, *http.Client) {
	t.Helper()

	fetcher := &engine.Fetcher{
		Observer: metrics.ObserveFetch,
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
	api := &handlers.API{
		Source: &rankings.Client{
			BaseURL: upstreamURL,
			Fetcher: fetcher,
			Retry:   engine.RetryOptions{MaxAttempts: 2, PerAttemptTimeout: time.Second},
			Batch:   engine.BatchOptions{Width: 2},
		},
		Collection: "kektech",
		Limiters:   engine.NewLimiters(quota.NewMemoryStore(time.Minute), quotas, "it:"),
	}
	srv := server.New(server.Options{API: api})

	ts := &httptest.Server{
		Listener: listenOrSkip(t),
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func scrape(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	resp, err := client.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body)
}


func TestGatewayMetrics_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	require.NoError(t, observability.InitServerLogger("test", config.LoggingConfig{Level: "info"}))

	initMetricsOrSkip(t)

	upstream := newUpstream(t)
	ts, client := newGateway(t, upstream.URL, map[core.UseCase]core.QuotaConfig{
		core.UseCaseAPI:  {Limit: 1000, Window: time.Minute},
		core.UseCaseMint: {Limit: 2, Window: time.Minute},
	})

	const numRequests = 40
	const numWorkers = 8

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for reqNum := range requestChan {
				var resp *http.Response
				var err error
				switch reqNum % 4 {
				case 0:
					resp, err = client.Get(ts.URL + "/api/rankings")
				case 1:
					resp, err = client.Get(ts.URL + "/api/nfts?ids=1,2,13")
				case 2:
					resp, err = client.Post(ts.URL+"/api/preflight/mint", "application/json", nil)
				default:
					resp, err = client.Get(ts.URL + "/health")
				}
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)

	content := scrape(t, client, ts.URL)
	assert.Contains(t, content, "test_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, content, "test_quota_decisions_total", "Should have quota decision metrics")
	assert.Contains(t, content, "test_upstream_attempts_total", "Should have upstream attempt metrics")
	assert.Contains(t, content, "test_upstream_fetches_total", "Should have upstream fetch metrics")
	assert.True(t, elapsed < 5*time.Second, "Load test should complete in reasonable time")
	t.Logf("Load test completed: %d requests in %v", numRequests, elapsed)
}

func TestGateway_PreflightQuotaAcrossRequests(t *testing.T) {
	require.NoError(t, observability.InitServerLogger("test", config.LoggingConfig{Level: "info"}))

	upstream := newUpstream(t)
	ts, client := newGateway(t, upstream.URL, map[core.UseCase]core.QuotaConfig{
		core.UseCaseMint: {Limit: 2, Window: time.Minute},
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/preflight/mint", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
		resp, err := client.Do(req)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
		}
		require.NoError(t, resp.Body.Close())
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// A different client has its own window.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/preflight/mint", nil)
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_RankingsThroughUpstream(t *testing.T) {
	require.NoError(t, observability.InitServerLogger("test", config.LoggingConfig{Level: "info"}))

	upstream := newUpstream(t)
	ts, client := newGateway(t, upstream.URL, map[core.UseCase]core.QuotaConfig{
		core.UseCaseAPI: {Limit: 10, Window: time.Minute},
	})

	resp, err := client.Get(ts.URL + "/api/rankings")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "s-maxage=300")
	assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))
	assert.JSONEq(t, `{"nfts":[{"token_id":"1","rank":1},{"token_id":"2","rank":2}]}`, string(body))
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	require.NoError(t, observability.InitServerLogger("test", config.LoggingConfig{Level: "info"}))

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	require.NoError(t, observability.InitMetrics("test", config.MetricsConfig{Enabled: false}))

	ts, client := newGateway(t, "http://127.0.0.1:1", nil)

	resp, err := client.Get(ts.URL + "/health/live")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
