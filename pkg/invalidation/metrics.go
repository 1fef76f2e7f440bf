package invalidation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvalidationsTotal tracks rule executions by strategy and result
	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_invalidations_total",
			Help: "Total number of invalidation rule executions",
		},
		[]string{"strategy", "result"}, // "success", "failure"
	)

	// InvalidatedKeys tracks keys removed by invalidation
	InvalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecache_invalidated_keys_total",
			Help: "Total number of cache keys removed by invalidation rules",
		},
	)

	// LazyQueueDepth tracks lazy invalidations waiting for the drainer
	LazyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_invalidation_lazy_queue_depth",
			Help: "Number of lazy invalidations waiting to be drained",
		},
	)

	// PendingTimers tracks scheduled time-based invalidations
	PendingTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_invalidation_pending_timers",
			Help: "Number of scheduled time-based invalidations",
		},
	)
)
