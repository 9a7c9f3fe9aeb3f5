package metrics

import (
	"strconv"
	"strings"
)

// Error metric names.
const (
	ErrorsTotal      = "errors_total"
	PanicsTotal      = "panics_total"
	ErrorsByEndpoint = "errors_by_endpoint"
)

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotal, 1, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	count(PanicsTotal, 1, nil)
}

// RecordErrorByEndpoint counts an error response against its request path.
// Paths outside the known route set collapse to "other" so scanners cannot
// inflate label cardinality.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpoint, 1, map[string]string{
		"endpoint":   endpointLabel(endpoint),
		"error_code": errorCode,
	})
}

var knownEndpoints = map[string]bool{
	"/api/rankings":   true,
	"/api/nfts":       true,
	"/api/rpc":        true,
	"/health":         true,
	"/health/live":    true,
	"/health/ready":   true,
	"/health/startup": true,
	"/version":        true,
	"/metrics":        true,
	"/admin/signal":   true,
}

// Parameterized routes are labelled by their pattern.
var endpointPatterns = []struct{ prefix, label string }{
	{"/api/nfts/", "/api/nfts/{tokenID}"},
	{"/api/preflight/", "/api/preflight/{useCase}"},
}

func endpointLabel(path string) string {
	if knownEndpoints[path] {
		return path
	}
	for _, p := range endpointPatterns {
		if strings.HasPrefix(path, p.prefix) {
			return p.label
		}
	}
	return "other"
}
