// Package metrics exposes Prometheus instrumentation for sources and
// property file syncs. Nothing is served until Initialize is called.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every propsort collector. It is nil while metrics are
// disabled.
var Registry *prometheus.Registry

var (
	SourceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsort_source_requests_total",
			Help: "Total number of source API calls",
		},
		[]string{"source", "operation", "status"},
	)

	SourceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsort_source_request_duration_seconds",
			Help:    "Source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "operation"},
	)

	SourceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propsort_source_healthy",
			Help: "Source health status (0=unhealthy, 1=healthy)",
		},
		[]string{"source"},
	)

	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsort_syncs_total",
			Help: "Total number of property file syncs by outcome",
		},
		[]string{"dest", "status"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsort_sync_duration_seconds",
			Help:    "Property file sync latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dest"},
	)

	PropertiesWritten = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propsort_properties_written",
			Help: "Number of properties in the last rendered file",
		},
		[]string{"dest"},
	)
)

// Sync outcomes used as the status label of SyncsTotal.
const (
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
	StatusNoop      = "noop"
	StatusError     = "error"
)

// Initialize creates Registry and registers all collectors, including
// the Go runtime and process collectors.
func Initialize() {
	Registry = prometheus.NewRegistry()
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceHealthy,
		SyncsTotal,
		SyncDuration,
		PropertiesWritten,
	)
}

// Enabled reports whether Initialize has been called.
func Enabled() bool {
	return Registry != nil
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	if Registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordSourceRequest records one call against a source.
func RecordSourceRequest(source, operation string, success bool, seconds float64) {
	SourceRequestsTotal.WithLabelValues(source, operation, status(success)).Inc()
	SourceRequestDuration.WithLabelValues(source, operation).Observe(seconds)
}

// SetSourceHealthy records the result of the latest health check.
func SetSourceHealthy(source string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	SourceHealthy.WithLabelValues(source).Set(v)
}

// RecordSync records a sync of dest with the given outcome.
func RecordSync(dest, outcome string, seconds float64) {
	SyncsTotal.WithLabelValues(dest, outcome).Inc()
	SyncDuration.WithLabelValues(dest).Observe(seconds)
}

// SetPropertiesWritten records how many properties dest now holds.
func SetPropertiesWritten(dest string, n int) {
	PropertiesWritten.WithLabelValues(dest).Set(float64(n))
}
