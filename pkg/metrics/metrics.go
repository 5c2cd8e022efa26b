// Package metrics defines the Prometheus metrics exported by filetx.
//
// All metrics are registered on the default registry through promauto, so
// exposing them only requires mounting promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetx_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"}, // operation: MOVE, REMOVE, PRESIGN_POST, PRESIGN_GET, STAT
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetx_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetx_storage_operation_errors_total",
			Help: "Total number of storage operation errors by type",
		},
		[]string{"operation", "error_type"},
	)
)

// Transaction metrics
var (
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetx_transactions_total",
			Help: "Total number of file transactions by outcome",
		},
		[]string{"outcome"}, // committed, rolled_back, rollback_failed
	)

	RollbackSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetx_rollback_steps_total",
			Help: "Total number of compensating moves issued during rollback",
		},
		[]string{"result"},
	)
)

// Resilience metrics
var (
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filetx_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetx_retry_attempts_total",
			Help: "Total number of retried storage calls",
		},
		[]string{"operation"},
	)
)
