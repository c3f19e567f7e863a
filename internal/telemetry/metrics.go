// Package telemetry exposes Prometheus metrics for version lifecycle
// operations, alert activity and HTTP traffic.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// versionOperations counts lifecycle operations by domain and outcome.
	// Labels: domain, operation (create, update, validate, preview,
	// activate, archive), outcome (success, error)
	versionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "versions",
		Name:      "operations_total",
		Help:      "Total settings version lifecycle operations",
	}, []string{"domain", "operation", "outcome"})

	// activationsTotal counts successful activations per domain.
	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "versions",
		Name:      "activations_total",
		Help:      "Total version activations",
	}, []string{"domain"})

	// validationFailures counts validations that returned errors.
	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "versions",
		Name:      "validation_failures_total",
		Help:      "Total validations that found blocking errors",
	}, []string{"domain"})

	// alertCommits counts committed alert definitions.
	// Labels: domain, type (volume_change, rate_drop, dropoff_spike, latency_shift)
	alertCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "alerts",
		Name:      "commits_total",
		Help:      "Total alert definitions committed",
	}, []string{"domain", "type"})

	// alertEvents counts alert events written by the evaluator.
	alertEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "alerts",
		Name:      "events_total",
		Help:      "Total alert events recorded",
	}, []string{"type", "severity"})

	// searchFallbacks counts searches served by Postgres because the
	// search engine was down.
	searchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beacon",
		Subsystem: "search",
		Name:      "fallbacks_total",
		Help:      "Total searches served by the Postgres fallback",
	})

	// httpRequestDuration records request latency by route and status.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beacon",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "route", "status"})
)

// RecordVersionOperation counts one lifecycle operation attempt.
func RecordVersionOperation(domain, operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	versionOperations.WithLabelValues(domain, operation, outcome).Inc()
}

// RecordActivation counts one successful activation.
func RecordActivation(domain string) {
	activationsTotal.WithLabelValues(domain).Inc()
}

// RecordValidationFailure counts a validation with blocking errors.
func RecordValidationFailure(domain string) {
	validationFailures.WithLabelValues(domain).Inc()
}

// RecordAlertCommit counts one committed alert definition.
func RecordAlertCommit(domain, alertType string) {
	alertCommits.WithLabelValues(domain, alertType).Inc()
}

// RecordAlertEvent counts one alert event.
func RecordAlertEvent(alertType, severity string) {
	alertEvents.WithLabelValues(alertType, severity).Inc()
}

// RecordSearchFallback counts one search served by Postgres.
func RecordSearchFallback() {
	searchFallbacks.Inc()
}

// ObserveHTTPRequest records one completed request.
func ObserveHTTPRequest(method, route string, status int, seconds float64) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

// Handler returns the metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
