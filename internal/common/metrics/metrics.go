// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_worker_runs_completed_total",
			Help: "Total number of scheduled runs completed by worker",
		},
		[]string{"worker"},
	)

	WorkerRunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_worker_runs_failed_total",
			Help: "Total number of scheduled runs failed by worker",
		},
		[]string{"worker"},
	)

	WorkerRunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_worker_runs_skipped_total",
			Help: "Total number of ticks skipped because a run was in flight",
		},
		[]string{"worker"},
	)

	WorkerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "billing_worker_run_duration_seconds",
			Help: "Duration of a scheduled run in seconds",
		},
		[]string{"worker"},
	)

	WorkerItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_worker_items_processed_total",
			Help: "Items processed per worker and outcome",
		},
		[]string{"worker", "outcome"},
	)

	ChargesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_submitted_total",
			Help: "Provider charge attempts by result",
		},
		[]string{"result"},
	)
)
