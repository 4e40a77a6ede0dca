package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umbrellashare_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	storeOperations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umbrellashare_store_operation_duration_seconds",
		Help:    "Duration of document store operations by backend, op and result",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op", "result"})

	loanOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_loan_operations_total",
		Help: "Borrow and return attempts by result",
	}, []string{"action", "result"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_inventory_conflict_retries_total",
		Help: "Inventory writes repeated after a version conflict",
	}, []string{"action"})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_inventory_compensations_total",
		Help: "Inventory rollbacks issued after a failed user write",
	}, []string{"action", "result"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"to"})

	injectedFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umbrellashare_injected_faults_total",
		Help: "Faults injected into document store calls by the chaos wrapper",
	}, []string{"op", "fault"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "umbrellashare_active_sessions",
		Help: "Number of logged-in sessions held by the server",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveStore records one document store call.
func ObserveStore(backend, op, result string, duration time.Duration) {
	storeOperations.WithLabelValues(backend, op, result).Observe(duration.Seconds())
}

// ObserveLoan counts a borrow or return attempt.
func ObserveLoan(action, result string) {
	loanOperations.WithLabelValues(action, result).Inc()
}

// ObserveConflictRetry counts an inventory write repeated after a conflict.
func ObserveConflictRetry(action string) {
	conflictRetries.WithLabelValues(action).Inc()
}

// ObserveCompensation counts an inventory rollback and whether it landed.
func ObserveCompensation(action, result string) {
	compensations.WithLabelValues(action, result).Inc()
}

// ObserveBreakerTransition counts a circuit breaker state change.
func ObserveBreakerTransition(to string) {
	breakerTransitions.WithLabelValues(to).Inc()
}

// ObserveInjectedFault counts a fault the chaos wrapper injected.
func ObserveInjectedFault(op, fault string) {
	injectedFaults.WithLabelValues(op, fault).Inc()
}

// SetActiveSessions sets the session gauge.
func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
