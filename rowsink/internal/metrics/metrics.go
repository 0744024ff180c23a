package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_rowsink_events_consumed_total",
			Help: "Total number of events delivered to the row sink",
		},
	)

	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftline_rowsink_write_duration_seconds",
			Help:    "Duration of row store upserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_rowsink_write_retries_total",
			Help: "Total number of retried row store writes",
		},
	)

	PoisonEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_rowsink_poison_events_total",
			Help: "Total number of events abandoned after exhausting write retries",
		},
	)
)
