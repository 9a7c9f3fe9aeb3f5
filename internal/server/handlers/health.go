package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/metrics"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// Pinger is a store that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QuotaStoreChecker reports the shared quota store as degraded, never
// unhealthy, when it cannot be reached: requests keep flowing through the
// local fallback.
type QuotaStoreChecker struct {
	Store Pinger
}

// ErrDegraded marks a check whose failure only degrades service.
var ErrDegraded = errors.New("degraded")

func (c QuotaStoreChecker) CheckHealth(ctx context.Context) error {
	if c.Store == nil {
		return nil
	}
	if err := c.Store.Ping(ctx); err != nil {
		return errors.Join(ErrDegraded, err)
	}
	return nil
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

// runHealthChecks executes all registered health checks in name order
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(hm.checkers))

	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = "timeout"
			continue
		}

		started := time.Now()
		err := hm.checkers[name].CheckHealth(ctx)
		switch {
		case err == nil:
			checks[name] = "healthy"
		case errors.Is(err, ErrDegraded):
			checks[name] = "degraded"
		default:
			checks[name] = "unhealthy"
		}
		metrics.RecordHealthCheck(name, err == nil, time.Since(started))
	}

	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}

	if degraded {
		return "degraded"
	}

	return "healthy"
}

// evaluate runs the checks under timeout and writes the failure response when
// the aggregate is unhealthy. It reports whether the caller should write a
// success body.
func (hm *HealthManager) evaluate(w http.ResponseWriter, r *http.Request, probe string, timeout time.Duration) (string, map[string]string, bool) {
	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == "unhealthy" {
		message := probe + " probe failed"
		if probe == "" {
			message = "aggregate health check failed"
		}
		envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
		envelope = enrichHealthEnvelope(envelope, probe, status, checks)
		apperrors.RespondWithError(w, r, envelope)
		return status, checks, false
	}
	return status, checks, true
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.evaluate(w, r, "", 5*time.Second)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler handles liveness probe requests
// Liveness indicates if the application is running
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "live", 2*time.Second)
}

// ReadinessHandler handles readiness probe requests
// Readiness indicates if the application is ready to serve traffic
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler handles startup probe requests
// Startup indicates if the application has completed initialization
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration) {
	status, _, ok := hm.evaluate(w, r, name, timeout)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func enrichHealthEnvelope(envelope *gferrors.ErrorEnvelope, probe, status string, checks map[string]string) *gferrors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if probe != "" {
		contextData["probe"] = probe
	}

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}
