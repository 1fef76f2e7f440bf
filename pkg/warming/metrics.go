package warming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WarmTotal tracks warm operations by result
	WarmTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_warm_total",
			Help: "Total number of cache warm operations by result",
		},
		[]string{"result"}, // "ok", "error", "shared"
	)

	// WarmDuration tracks load-then-populate latency by data type
	WarmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecache_warm_duration_seconds",
			Help:    "Duration of cache warm operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"data_type"},
	)

	// UpstreamRequests tracks upstream requests by status
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_upstream_requests_total",
			Help: "Total upstream requests by status",
		},
		[]string{"status"},
	)

	// UpstreamRetries tracks retry attempts by error class
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_upstream_retries_total",
			Help: "Total number of upstream retry attempts by error class",
		},
		[]string{"error_class"},
	)

	// UpstreamRetryExhausted tracks requests that used up their retries
	UpstreamRetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_upstream_retry_exhausted_total",
			Help: "Total number of times upstream retries were exhausted by error class",
		},
		[]string{"error_class"},
	)

	// ConditionalHits tracks 304 responses served from the last known body
	ConditionalHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecache_upstream_not_modified_total",
			Help: "Total number of 304 Not Modified upstream responses",
		},
	)
)
