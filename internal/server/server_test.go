package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/tradecache/internal/testutil"
	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/invalidation"
	"github.com/Sternrassler/tradecache/pkg/monitoring"
	"github.com/Sternrassler/tradecache/pkg/ratelimit"
	"github.com/Sternrassler/tradecache/pkg/trading"
	"github.com/Sternrassler/tradecache/pkg/warming"
)

type fixture struct {
	handler http.Handler
	manager *cache.Manager
	engine  *invalidation.Engine
	monitor *monitoring.Monitor
	layer   *trading.Layer
	mr      *miniredis.Miniredis
	clock   *testutil.Clock
}

// quoteLoader serves market data for every key except "MISSING" (404) and
// "DOWN" (503).
func quoteLoader() warming.Loader {
	return warming.LoaderFunc(func(_ context.Context, key string) (warming.Loaded, error) {
		switch key {
		case "MISSING":
			return warming.Loaded{}, &warming.UpstreamError{URL: "http://quotes/" + key, StatusCode: http.StatusNotFound, Class: warming.ErrorClassClient}
		case "DOWN":
			return warming.Loaded{}, &warming.UpstreamError{URL: "http://quotes/" + key, StatusCode: http.StatusServiceUnavailable, Class: warming.ErrorClassServer}
		}
		return warming.Loaded{Value: map[string]any{"symbol": key, "price": 100.0}}, nil
	})
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	clock := testutil.NewClock()
	manager, mr := testutil.NewManager(t, clock)

	engine, err := invalidation.New(manager, invalidation.Config{Now: clock.Now, Logger: &logger})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	tcfg := trading.DefaultConfig()
	tcfg.Now = clock.Now
	tcfg.Logger = &logger
	tcfg.QuoteUpdateSpec, tcfg.OrderBookUpdateSpec, tcfg.PortfolioUpdateSpec, tcfg.MetricsUpdateSpec = "", "", "", ""
	layer, err := trading.New(manager, tcfg)
	require.NoError(t, err)
	t.Cleanup(layer.Close)
	engine.AddHook(layer)

	monitor, err := monitoring.New(manager, monitoring.Config{
		Now:    clock.Now,
		Domain: func() any { return layer.Stats() },
		Logger: &logger,
	})
	require.NoError(t, err)
	t.Cleanup(monitor.Close)

	warmer, err := warming.New(manager, warming.Config{
		Loaders: map[string]warming.Loader{cache.TypeMarketData: quoteLoader()},
		Logger:  &logger,
	})
	require.NoError(t, err)

	deps := Deps{Cache: manager, Engine: engine, Monitor: monitor, Trading: layer, Warmer: warmer}
	if rateLimit > 0 {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		limiter, err := ratelimit.NewLimiter(client, ratelimit.Config{
			Limit:  rateLimit,
			Window: time.Minute,
			Now:    clock.Now,
			Logger: &logger,
		})
		require.NoError(t, err)
		deps.Limiter = limiter
	}

	srv, err := New(deps, Config{Logger: &logger})
	require.NoError(t, err)

	return &fixture{
		handler: srv.Handler(),
		manager: manager,
		engine:  engine,
		monitor: monitor,
		layer:   layer,
		mr:      mr,
		clock:   clock,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, cache.StatusHealthy, body["status"])
	levels := body["cache"].(map[string]any)["levels"].(map[string]any)
	assert.Contains(t, levels, "l1")
	assert.Contains(t, levels, "l2")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealth_DegradedWhenRedisDown(t *testing.T) {
	f := newFixture(t, 0)
	f.mr.SetError("connection refused")

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cache.StatusDegraded, decode[map[string]any](t, rec)["status"])
}

func TestCache_DeleteDuringRedisOutage(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/set", map[string]any{
		"key": "alice", "configType": cache.TypeUserProfile, "value": map[string]any{"name": "Alice"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.mr.SetError("connection refused")

	rec = f.do(t, http.MethodDelete, "/api/cache/delete", map[string]string{"key": "alice", "configType": cache.TypeUserProfile})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]bool](t, rec)["deleted"])
}

func TestCache_SetGetDelete(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/set", map[string]any{
		"key":        "alice",
		"configType": cache.TypeUserProfile,
		"value":      map[string]any{"name": "Alice", "tier": "pro"},
		"customTtl":  120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]bool](t, rec)["set"])
	assert.True(t, f.mr.Exists("user:alice"))
	assert.Equal(t, 120*time.Second, f.mr.TTL("user:alice"))

	rec = f.do(t, http.MethodPost, "/api/cache/get", map[string]string{"key": "alice", "configType": cache.TypeUserProfile})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, true, got["found"])
	assert.Equal(t, "Alice", got["value"].(map[string]any)["name"])

	rec = f.do(t, http.MethodDelete, "/api/cache/delete", map[string]string{"key": "alice", "configType": cache.TypeUserProfile})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]bool](t, rec)["deleted"])

	rec = f.do(t, http.MethodPost, "/api/cache/get", map[string]string{"key": "alice", "configType": cache.TypeUserProfile})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[map[string]any](t, rec)
	assert.Equal(t, false, got["found"])
	assert.Nil(t, got["value"])
}

func TestCache_BadRequests(t *testing.T) {
	f := newFixture(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown data type", http.MethodPost, "/api/cache/get", map[string]string{"key": "k", "configType": "nope"}, http.StatusBadRequest},
		{"missing key", http.MethodPost, "/api/cache/get", map[string]string{"configType": cache.TypeUserProfile}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/cache/set", "{not json", http.StatusBadRequest},
		{"missing value", http.MethodPost, "/api/cache/set", map[string]string{"key": "k", "configType": cache.TypeUserProfile}, http.StatusBadRequest},
		{"negative ttl", http.MethodPost, "/api/cache/set", map[string]any{"key": "k", "configType": cache.TypeUserProfile, "value": 1, "customTtl": -5}, http.StatusBadRequest},
		{"set unknown type", http.MethodPost, "/api/cache/set", map[string]any{"key": "k", "configType": "nope", "value": 1}, http.StatusBadRequest},
		{"delete unknown type", http.MethodDelete, "/api/cache/delete", map[string]string{"key": "k", "configType": "nope"}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/cache/get", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCache_StatsAndReset(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, _, err := f.manager.Get(ctx, "absent", cache.TypeUserProfile)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["misses"])

	rec = f.do(t, http.MethodPost, "/api/cache/stats/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, f.manager.GetStats().Misses)
}

func TestTrading_MarketData(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/trading/market-data/BTC-USD", map[string]any{"price": 50000, "volume": 12.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]bool](t, rec)["set"])

	rec = f.do(t, http.MethodGet, "/api/cache/trading/market-data/BTC-USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[trading.Quote](t, rec)
	assert.Equal(t, "BTC-USD", q.Symbol)
	assert.Equal(t, 50000.0, q.Price)

	rec = f.do(t, http.MethodPost, "/api/cache/trading/market-data", []map[string]any{
		{"symbol": "ETH-USD", "price": 3000},
		{"symbol": "SOL-USD", "price": 150},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[map[string]int](t, rec)["set"])

	rec = f.do(t, http.MethodGet, "/api/cache/trading/market-data?symbols=ETH-USD,SOL-USD,XRP-USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[struct {
		Quotes  map[string]trading.Quote `json:"quotes"`
		Missing []string                 `json:"missing"`
	}](t, rec)
	assert.Len(t, batch.Quotes, 2)
	assert.Equal(t, 3000.0, batch.Quotes["ETH-USD"].Price)
	assert.Equal(t, []string{"XRP-USD"}, batch.Missing)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/market-data/DOGE-USD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/trading/market-data", map[string]any{"price": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[trading.Stats](t, rec).Quotes)
}

func TestTrading_Portfolio(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/trading/portfolio", map[string]any{
		"userId": "u1",
		"cash":   1000,
		"positions": []map[string]any{
			{"symbol": "BTC-USD", "quantity": 0.5},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/cache/trading/portfolio/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[trading.Portfolio](t, rec)
	assert.Equal(t, 1000.0, p.Cash)
	require.Len(t, p.Positions, 1)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/portfolio?userId=u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/portfolio", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/portfolio/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/cache/trading/user/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, decode[map[string]int](t, rec)["removed"], 1)

	rec = f.do(t, http.MethodGet, "/api/cache/trading/portfolio/u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.layer.SetQuote(ctx, trading.Quote{Symbol: "BTC-USD", Price: 1})
	require.NoError(t, err)
	_, err = f.layer.SetQuote(ctx, trading.Quote{Symbol: "ETH-USD", Price: 2})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/cache/invalidate", map[string]any{"pattern": "market:BTC-USD"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := decode[[]invalidation.Event](t, rec)
	require.NotEmpty(t, events)
	assert.True(t, events[0].Success)
	assert.ElementsMatch(t, []string{"market:BTC-USD", "market:ETH-USD"}, events[0].AffectedKeys)

	_, found, err := f.layer.GetQuote(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.False(t, found, "trading mirror must be cleared by the invalidation hook")

	rec = f.do(t, http.MethodPost, "/api/cache/invalidate", map[string]any{"pattern": "nothing:matches"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]invalidation.Event](t, rec))

	rec = f.do(t, http.MethodPost, "/api/cache/invalidate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cache/invalidation/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[invalidation.Stats](t, rec)
	assert.GreaterOrEqual(t, stats.TotalInvalidations, int64(1))

	rec = f.do(t, http.MethodGet, "/api/cache/invalidation/events?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]invalidation.Event](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/cache/invalidation/events?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidationRules(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/invalidation/rules", map[string]any{
		"id":       "quotes-lazy",
		"pattern":  "market:*",
		"strategy": "lazy",
		"priority": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[invalidation.Rule](t, rec)
	assert.True(t, added.Enabled, "enabled defaults to true")

	rec = f.do(t, http.MethodPut, "/api/cache/invalidation/rules/quotes-lazy", map[string]any{"priority": 9, "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[invalidation.Rule](t, rec)
	assert.Equal(t, 9, updated.Priority)
	assert.False(t, updated.Enabled)

	rec = f.do(t, http.MethodGet, "/api/cache/invalidation/rules/quotes-lazy", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cache/invalidation/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]invalidation.Rule](t, rec), len(f.engine.Rules()))

	rec = f.do(t, http.MethodDelete, "/api/cache/invalidation/rules/quotes-lazy", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/cache/invalidation/rules/quotes-lazy", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/cache/invalidation/rules/quotes-lazy", map[string]any{"priority": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/invalidation/rules", map[string]any{"pattern": "market:*", "strategy": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoring(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodGet, "/api/monitoring/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[map[string]any](t, rec)
	assert.Contains(t, snap, "trading")

	f.clock.Advance(10 * time.Second)
	f.monitor.Sample(context.Background())

	rec = f.do(t, http.MethodGet, "/api/monitoring/metrics/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]monitoring.Snapshot](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/monitoring/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]monitoring.Alert](t, rec))

	rec = f.do(t, http.MethodGet, "/api/monitoring/alerts?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/monitoring/alerts/alert-unknown/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/monitoring/report?period=hour", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[monitoring.Report](t, rec)
	assert.Equal(t, 2, report.Samples)
	assert.NotEmpty(t, report.Recommendations)

	start := f.clock.Now().Add(-time.Minute).Format(time.RFC3339)
	end := fmt.Sprint(f.clock.Now().UnixMilli())
	rec = f.do(t, http.MethodGet, "/api/monitoring/report?period=hour&startTime="+start+"&endTime="+end, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/monitoring/report?period=fortnight", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/monitoring/report?startTime=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoring_AlertLifecycle(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/monitoring/rules", map[string]any{
		"id":        "l1-too-empty",
		"metric":    "memoryUsage",
		"operator":  "<",
		"threshold": 10,
		"severity":  "warning",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[monitoring.AlertRule](t, rec).Enabled)

	f.monitor.Sample(context.Background())

	rec = f.do(t, http.MethodGet, "/api/monitoring/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]monitoring.Alert](t, rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, "l1-too-empty", alerts[0].RuleID)

	rec = f.do(t, http.MethodPost, "/api/monitoring/alerts/"+alerts[0].ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[monitoring.Alert](t, rec).Resolved)

	rec = f.do(t, http.MethodGet, "/api/monitoring/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]monitoring.AlertRule](t, rec), len(f.monitor.AlertRules()))

	rec = f.do(t, http.MethodDelete, "/api/monitoring/rules/l1-too-empty", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/monitoring/rules/l1-too-empty", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/monitoring/rules", map[string]any{"metric": "hitRate", "operator": "!=", "severity": "warning"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarm(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/warm", map[string]string{"key": "BTC-USD", "configType": cache.TypeMarketData})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[warming.Result](t, rec).Warmed)
	assert.True(t, f.mr.Exists("market:BTC-USD"))

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"no loader", map[string]string{"key": "u1", "configType": cache.TypePortfolio}, http.StatusBadRequest},
		{"unknown type", map[string]string{"key": "u1", "configType": "nope"}, http.StatusBadRequest},
		{"upstream not found", map[string]string{"key": "MISSING", "configType": cache.TypeMarketData}, http.StatusNotFound},
		{"upstream down", map[string]string{"key": "DOWN", "configType": cache.TypeMarketData}, http.StatusBadGateway},
		{"missing key", map[string]string{"configType": cache.TypeMarketData}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/cache/warm", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestWarm_Batch(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/cache/warm", map[string]any{
		"requests": []map[string]string{
			{"key": "ETH-USD", "configType": cache.TypeMarketData},
			{"key": "DOWN", "configType": cache.TypeMarketData},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	results := decode[struct {
		Results []warming.Result `json:"results"`
	}](t, rec).Results
	require.Len(t, results, 2)
	assert.True(t, results[0].Warmed)
	assert.False(t, results[1].Warmed)
	assert.NotEmpty(t, results[1].Error)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/api/cache/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get(ratelimit.HeaderLimit))
	}

	rec := f.do(t, http.MethodGet, "/api/cache/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks bypass the limiter")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	_, _, _ = f.manager.Get(context.Background(), "absent", cache.TypeUserProfile)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradecache_cache_misses_total")
}

func TestRecoverPanics(t *testing.T) {
	logger := zerolog.Nop()
	s := &Server{logger: logger}
	h := s.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("x"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", cache.ErrUnknownDataType), http.StatusBadRequest},
		{warming.ErrNoLoader, http.StatusBadRequest},
		{trading.ErrInvalidInput, http.StatusBadRequest},
		{invalidation.ErrRuleNotFound, http.StatusNotFound},
		{monitoring.ErrAlertNotFound, http.StatusNotFound},
		{&warming.UpstreamError{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{fmt.Errorf("load: %w", &warming.UpstreamError{StatusCode: http.StatusBadGateway}), http.StatusBadGateway},
		{warming.ErrRetryExhausted, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestParseTime(t *testing.T) {
	zero, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	ts, err := parseTime("2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	ms, err := parseTime("1767225600000")
	require.NoError(t, err)
	assert.True(t, ms.Equal(ts))

	_, err = parseTime("soon")
	assert.Error(t, err)
}
