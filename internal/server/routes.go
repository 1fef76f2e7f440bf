package server

import (
	"net/http"

	"github.com/Sternrassler/tradecache/pkg/metrics"
)

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverPanics)
	r.Use(securityHeaders)
	r.Use(s.logRequests)
	if s.deps.Limiter != nil {
		r.Use(s.deps.Limiter.Middleware(nil, func(req *http.Request) bool {
			return req.URL.Path == "/health" || req.URL.Path == "/metrics"
		}))
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// Cache
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats/reset", s.handleResetStats).Methods(http.MethodPost)
	api.HandleFunc("/cache/get", s.handleGet).Methods(http.MethodPost)
	api.HandleFunc("/cache/set", s.handleSet).Methods(http.MethodPost)
	api.HandleFunc("/cache/delete", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/cache/warm", s.handleWarm).Methods(http.MethodPost)

	// Trading
	api.HandleFunc("/cache/trading/stats", s.handleTradingStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/trading/market-data", s.handleSetMarketData).Methods(http.MethodPost)
	api.HandleFunc("/cache/trading/market-data", s.handleBatchMarketData).Methods(http.MethodGet)
	api.HandleFunc("/cache/trading/market-data/{symbol}", s.handleSetMarketData).Methods(http.MethodPost)
	api.HandleFunc("/cache/trading/market-data/{symbol}", s.handleGetMarketData).Methods(http.MethodGet)
	api.HandleFunc("/cache/trading/portfolio", s.handleSetPortfolio).Methods(http.MethodPost)
	api.HandleFunc("/cache/trading/portfolio", s.handleGetPortfolio).Methods(http.MethodGet)
	api.HandleFunc("/cache/trading/portfolio/{userId}", s.handleSetPortfolio).Methods(http.MethodPost)
	api.HandleFunc("/cache/trading/portfolio/{userId}", s.handleGetPortfolio).Methods(http.MethodGet)
	api.HandleFunc("/cache/trading/session/{sessionId}", s.handleInvalidateSession).Methods(http.MethodDelete)
	api.HandleFunc("/cache/trading/user/{userId}", s.handleInvalidateUser).Methods(http.MethodDelete)

	// Invalidation
	api.HandleFunc("/cache/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	api.HandleFunc("/cache/invalidation/stats", s.handleInvalidationStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidation/events", s.handleInvalidationEvents).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidation/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidation/rules", s.handleAddRule).Methods(http.MethodPost)
	api.HandleFunc("/cache/invalidation/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidation/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/cache/invalidation/rules/{id}", s.handleRemoveRule).Methods(http.MethodDelete)

	// Monitoring
	api.HandleFunc("/monitoring/metrics", s.handleCurrentMetrics).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/metrics/history", s.handleMetricsHistory).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/monitoring/report", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/rules", s.handleListAlertRules).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/rules", s.handleAddAlertRule).Methods(http.MethodPost)
	api.HandleFunc("/monitoring/rules/{id}", s.handleRemoveAlertRule).Methods(http.MethodDelete)
}
