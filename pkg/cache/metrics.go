package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by level
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_cache_hits_total",
			Help: "Total number of cache hits by level",
		},
		[]string{"level"}, // "l1", "l2", "l3"
	)

	// CacheMisses tracks reads that exhausted every applicable level
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecache_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks store errors degraded to misses
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "exists", "scan", "flush"
	)

	// CacheEvictions tracks L1 LRU evictions
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecache_cache_evictions_total",
			Help: "Total number of L1 entries evicted to make room",
		},
	)

	// L1Entries tracks the current L1 size
	L1Entries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_cache_l1_entries",
			Help: "Current number of entries in the L1 tier",
		},
	)

	// WriteBehindQueueDepth tracks pending write-behind items
	WriteBehindQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_write_behind_queue_depth",
			Help: "Number of items waiting to be flushed to lower tiers",
		},
	)

	// WriteBehindFlushes tracks flush attempts by result
	WriteBehindFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_write_behind_flushes_total",
			Help: "Total number of write-behind batch flushes by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	// WriteBehindDeadLetters tracks items given up on
	WriteBehindDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecache_write_behind_dead_letters_total",
			Help: "Total number of write-behind items moved to the dead-letter buffer",
		},
	)

	// OperationDuration tracks read latency per level that served the read
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecache_cache_get_duration_seconds",
			Help:    "Cache read duration in seconds by serving level",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"level"}, // "l1", "l2", "l3", "miss"
	)
)
