// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EvaluationsSubmittedTotal counts evaluations accepted by the Gateway.
	EvaluationsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evaluations_submitted_total",
			Help: "Total number of evaluations submitted",
		},
	)
	// EvaluationsCompletedTotal counts evaluations that reached the completed state.
	EvaluationsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evaluations_completed_total",
			Help: "Total number of evaluations that completed successfully",
		},
	)
	// EvaluationsFailedTotal counts evaluations that reached the failed or
	// cancelled state, labelled by the terminal status.
	EvaluationsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluations_failed_total",
			Help: "Total number of evaluations that failed or were cancelled",
		},
		[]string{"status"},
	)

	// DispatcherExecuteDuration records how long the Dispatcher's Execute
	// call takes to admit and create an execution unit, labelled by outcome.
	DispatcherExecuteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_execute_duration_seconds",
			Help:    "Dispatcher Execute call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	// RetryTotal counts retry decisions made by the Worker, labelled by reason.
	RetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_retry_total",
			Help: "Total number of retry decisions made by the worker",
		},
		[]string{"reason"},
	)

	// DLQDepth is a gauge of the number of messages currently parked in the
	// dead-letter topic.
	DLQDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_dlq_depth",
			Help: "Approximate number of messages currently on the dead-letter topic",
		},
	)

	// CircuitBreakerStatus tracks circuit breaker state per wrapped client.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(EvaluationsSubmittedTotal)
	prometheus.MustRegister(EvaluationsCompletedTotal)
	prometheus.MustRegister(EvaluationsFailedTotal)
	prometheus.MustRegister(DispatcherExecuteDuration)
	prometheus.MustRegister(RetryTotal)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// RecordEvaluationSubmitted increments the submitted-evaluations counter.
func RecordEvaluationSubmitted() {
	EvaluationsSubmittedTotal.Inc()
}

// RecordEvaluationCompleted increments the completed-evaluations counter.
func RecordEvaluationCompleted() {
	EvaluationsCompletedTotal.Inc()
}

// RecordEvaluationFailed increments the failed-evaluations counter for the
// given terminal status ("failed" or "cancelled").
func RecordEvaluationFailed(status string) {
	EvaluationsFailedTotal.WithLabelValues(status).Inc()
}

// ObserveDispatcherExecute records the duration of a Dispatcher Execute call.
func ObserveDispatcherExecute(seconds float64, outcome string) {
	DispatcherExecuteDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordRetry increments the retry counter for the given reason; the Worker
// passes the retry policy name ("default" or "quota").
func RecordRetry(reason string) {
	RetryTotal.WithLabelValues(reason).Inc()
}

// SetDLQDepth sets the current dead-letter queue depth gauge.
func SetDLQDepth(n float64) {
	DLQDepth.Set(n)
}

// RecordCircuitBreakerStatus records circuit breaker state for a wrapped client.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
