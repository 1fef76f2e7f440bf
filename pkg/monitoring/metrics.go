package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsTotal tracks fired alerts by severity
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecache_alerts_total",
			Help: "Total number of alerts fired by severity",
		},
		[]string{"severity"}, // "low", "medium", "high", "critical"
	)

	// HitRatePercent tracks the hit rate of the latest sample
	HitRatePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_hit_rate_percent",
			Help: "Cache hit rate of the latest monitoring sample in percent",
		},
	)

	// ActiveAlerts tracks unresolved alerts
	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecache_active_alerts",
			Help: "Number of unresolved alerts",
		},
	)
)
