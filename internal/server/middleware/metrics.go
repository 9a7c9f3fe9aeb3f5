package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/observability"
)

// HTTP metric names.
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// endpointPattern labels a request by its chi route pattern, or by a fixed
// bucket when the request never reached a router.
func endpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/", path == "/version", path == "/metrics",
		path == "/api/rankings", path == "/api/rpc", path == "/api/nfts":
		return path
	case strings.HasPrefix(path, "/api/nfts/"):
		return "/api/nfts/{tokenID}"
	case strings.HasPrefix(path, "/api/preflight/"):
		return "/api/preflight/{useCase}"
	default:
		return "/unknown"
	}
}

// errorClass buckets failing statuses; quota rejections are kept apart from
// other client errors.
func errorClass(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

// RequestMetrics emits per-request counters, latency and sizes, then logs the
// completed request with its correlation ID and client key.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := endpointPattern(r)
		status := strconv.Itoa(rec.status)
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}

		tel := observability.TelemetrySystem
		_ = tel.Counter(HTTPRequestsTotal, 1, labels)
		_ = tel.Histogram(HTTPRequestDuration, duration, labels)
		_ = tel.Gauge(HTTPRequestSizeBytes, float64(requestSize), sizeLabels)
		_ = tel.Gauge(HTTPResponseSizeBytes, float64(rec.written), sizeLabels)

		if rec.status >= 400 {
			_ = tel.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorClass(rec.status),
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", rec.written),
				zap.String("client", ClientKey(r)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		}
	})
}
