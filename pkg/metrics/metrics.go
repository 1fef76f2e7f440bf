// Package metrics exposes the Prometheus registry of the trading cache service.
// Collectors are defined in their own packages (cache, invalidation,
// monitoring, trading, warming, ratelimit) and registered via promauto.
//
// This package provides the /metrics handler and the metric catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all collectors are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Catalogue
//
// Cache Manager (pkg/cache):
//   - tradecache_cache_hits_total{level} (Counter): hits by level (l1, l2, l3)
//   - tradecache_cache_misses_total (Counter): reads that exhausted every level
//   - tradecache_cache_errors_total{operation} (Counter): store errors degraded to miss/false
//   - tradecache_cache_evictions_total (Counter): L1 LRU evictions
//   - tradecache_cache_l1_entries (Gauge): live L1 entries
//   - tradecache_write_behind_queue_depth (Gauge): pending write-behind items
//   - tradecache_write_behind_flushes_total{result} (Counter): flush batches by result
//   - tradecache_write_behind_dead_letters_total (Counter): items given up on
//
// Invalidation Engine (pkg/invalidation):
//   - tradecache_invalidations_total{strategy,result} (Counter): rule executions
//   - tradecache_invalidated_keys_total (Counter): keys removed by rules
//
// Monitoring (pkg/monitoring):
//   - tradecache_alerts_total{severity} (Counter): alerts fired
//   - tradecache_hit_rate_percent (Gauge): hit rate of the latest sample
//
// Trading layer (pkg/trading):
//   - tradecache_trading_update_events_total{kind} (Counter): update-required events
//
// Warming (pkg/warming):
//   - tradecache_warm_total{result} (Counter): warm operations by result
//   - tradecache_upstream_retries_total{error_class} (Counter): upstream retry attempts
//
// Rate limiting (pkg/ratelimit):
//   - tradecache_rate_limit_rejections_total (Counter): requests rejected with 429
//
// Example Prometheus Queries:
//
//   # L1 share of hits
//   sum(rate(tradecache_cache_hits_total{level="l1"}[5m])) /
//   sum(rate(tradecache_cache_hits_total[5m]))
//
//   # Write-behind backlog
//   tradecache_write_behind_queue_depth > 1000
//
//   # Upstream retry rate by class
//   sum by (error_class) (rate(tradecache_upstream_retries_total[5m]))
