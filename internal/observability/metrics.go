package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/kektech/kektech/internal/config"
)

// DefaultMetricsPort is used when discovery of a random port fails.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem is the global telemetry system
	TelemetrySystem *telemetry.System

	// PrometheusExporter is the prometheus metrics exporter
	PrometheusExporter *exporters.PrometheusExporter

	// metricsPort stores the port the Prometheus exporter is listening on
	metricsPort int
)

// InitMetrics starts the Prometheus exporter on cfg.Port (0 picks a free
// port) and installs the telemetry system used by internal/metrics. With
// metrics disabled it does nothing and every recorder is a no-op.
func InitMetrics(serviceName string, cfg config.MetricsConfig, namespace ...string) error {
	if !cfg.Enabled {
		return nil
	}

	requestedPort := cfg.Port
	if requestedPort < 0 {
		requestedPort = 0
	}
	metricsPort = requestedPort

	metricNamespace := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		metricNamespace = namespace[0]
	}

	PrometheusExporter = exporters.NewPrometheusExporter(metricNamespace, fmt.Sprintf(":%d", requestedPort))
	if err := PrometheusExporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	if actualPort, err := resolvePort(PrometheusExporter.GetAddr()); err == nil {
		metricsPort = actualPort
	} else if requestedPort == 0 {
		metricsPort = DefaultMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: PrometheusExporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	// Error metrics (errors_total, panics_total) are registered by gofulmen
	// on first use; see internal/metrics/errors.go.
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the Prometheus exporter is listening on
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return port, nil
}

// ShutdownMetrics stops the Prometheus exporter and drops the telemetry
// system so recorders become no-ops.
func ShutdownMetrics() error {
	TelemetrySystem = nil
	if PrometheusExporter == nil {
		return nil
	}
	err := PrometheusExporter.Stop()
	PrometheusExporter = nil
	return err
}
