package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_lakesink_events_buffered",
			Help: "Events currently accumulated and not yet committed",
		},
	)

	BatchesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_lakesink_batches_committed_total",
			Help: "Total number of atomically committed batches",
		},
	)

	BatchCommitSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftline_lakesink_batch_commit_size",
			Help:    "Events per committed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftline_lakesink_flush_duration_seconds",
			Help:    "Duration of batch commits in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_lakesink_flush_failures_total",
			Help: "Total number of failed batch commit attempts",
		},
	)

	ConsumerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_lakesink_consumer_state",
			Help: "Batch state machine state (0=accumulating 1=flushing 2=recovering)",
		},
	)
)
