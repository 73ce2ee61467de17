// Package metrics holds the prometheus collectors shared across the
// decaying deque and source, following the promauto-per-component pattern
// the rest of this codebase uses for background tasks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "botrunner",
		Name:      "queue_size",
		Help:      "Current number of nodes live in a decaying deque, labelled by queue name.",
	}, []string{"queue"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botrunner",
		Name:      "tasks_completed_total",
		Help:      "Number of consume() calls that resolved before their deadline.",
	}, []string{"queue"})

	TasksErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botrunner",
		Name:      "tasks_errored_total",
		Help:      "Number of consume() calls that rejected before their deadline.",
	}, []string{"queue"})

	TasksTimedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botrunner",
		Name:      "tasks_timed_out_total",
		Help:      "Number of tasks purged by the decaying deque's timeout sweep.",
	}, []string{"queue"})

	SourceBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botrunner",
		Name:      "source_batch_size",
		Help:      "Number of updates returned per supply() call.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	}, []string{"source"})

	SourceWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botrunner",
		Name:      "source_pacing_wait_seconds",
		Help:      "Inter-batch pacing delay actually slept.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"source"})
)
