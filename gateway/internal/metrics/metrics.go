package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_gateway_events_total",
			Help: "Total number of event submissions by outcome",
		},
		[]string{"status"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_gateway_event_bytes_total",
			Help: "Total bytes of event data received",
		},
	)

	ValidationWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_gateway_validation_warnings_total",
			Help: "Total number of accepted events carrying warnings",
		},
	)

	// Publish path metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftline_gateway_publish_duration_seconds",
			Help:    "Duration of durable log publish calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublisherState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_gateway_publisher_state",
			Help: "Publisher readiness state (0=disconnected 1=connecting 2=ready 3=degraded)",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_gateway_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"client"},
	)
)
