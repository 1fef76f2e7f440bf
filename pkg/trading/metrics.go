package trading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdateEvents tracks emitted update-required events by kind
	UpdateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_trading_update_events_total",
			Help: "Total number of update-required events emitted by the trading layer",
		},
		[]string{"kind"}, // "market_data", "order_book", "portfolio", "derived_metrics"
	)

	// MirrorReads tracks in-process mirror lookups by kind and result
	MirrorReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_trading_mirror_reads_total",
			Help: "Total number of trading mirror lookups",
		},
		[]string{"kind", "result"}, // result: "hit", "miss"
	)
)
