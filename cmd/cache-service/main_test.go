package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/tradecache/internal/testutil"
	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/config"
	"github.com/Sternrassler/tradecache/pkg/trading"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("TRADECACHE_REDIS_ADDRESS", mr.Addr())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Server.Port = 0
	cfg.Trading.QuoteUpdates = ""
	cfg.Trading.OrderBookUpdates = ""
	cfg.Trading.PortfolioUpdates = ""
	cfg.Trading.MetricsUpdates = ""
	cfg.Cache.ShutdownDrainTimeout = 100 * time.Millisecond
	return cfg
}

func buildTestApp(t *testing.T, cfg *config.Config, mr *miniredis.Miniredis) *app {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a, err := build(cfg, client, zerolog.Nop())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.shutdown(ctx)
	})
	return a
}

func TestBuild_ServesAPI(t *testing.T) {
	mr := miniredis.RunT(t)
	a := buildTestApp(t, testConfig(t, mr), mr)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("GET /health body = %s, want healthy", rec.Body.String())
	}

	body := strings.NewReader(`{"key":"alice","configType":"user_profile","value":{"name":"Alice"}}`)
	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/set", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/cache/set status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !mr.Exists("user:alice") {
		t.Error("user:alice not written to Redis")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestBuild_TrackedSymbolsAndInvalidationHook(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Trading.Symbols = []string{"BTC-USD", "ETH-USD"}
	a := buildTestApp(t, cfg, mr)
	ctx := context.Background()

	if got := a.layer.Symbols(); len(got) != 2 {
		t.Errorf("Symbols() = %v, want 2 tracked symbols", got)
	}

	if _, err := a.layer.SetQuote(ctx, trading.Quote{Symbol: "BTC-USD", Price: 1}); err != nil {
		t.Fatalf("SetQuote() error = %v", err)
	}
	a.engine.Invalidate(ctx, "market:BTC-USD", nil)

	if _, found, _ := a.layer.GetQuote(ctx, "BTC-USD"); found {
		t.Error("quote still visible after invalidation")
	}
}

func TestBuild_ScheduledRefreshWarmsFromUpstream(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.SetResponse("/BTC-USD", testutil.JSON(`{"symbol":"BTC-USD","price":42}`))

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Trading.Symbols = []string{"BTC-USD"}
	cfg.Warming.Upstreams = map[string]string{cache.TypeMarketData: up.URL()}
	a := buildTestApp(t, cfg, mr)

	a.layer.EmitUpdate(context.Background(), trading.KindMarketData)

	if n := up.Requests("/BTC-USD"); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}
	if !mr.Exists("market:BTC-USD") {
		t.Error("market:BTC-USD not warmed into Redis")
	}

	// kinds without a loader are ignored
	a.layer.EmitUpdate(context.Background(), trading.KindOrderBook)
	if n := up.Requests("/BTC-USD"); n != 1 {
		t.Errorf("upstream requests after order book update = %d, want 1", n)
	}
}

func TestBuild_RateLimitDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.RateLimit.Enabled = false
	a := buildTestApp(t, cfg, mr)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("rate limit headers set although the limiter is disabled")
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a, err := build(testConfig(t, mr), client, zerolog.Nop())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TRADECACHE_TEST_VALUE", "set")

	if got := getEnv("TRADECACHE_TEST_VALUE", "default"); got != "set" {
		t.Errorf("getEnv(set) = %q, want set", got)
	}
	if got := getEnv("TRADECACHE_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv(unset) = %q, want default", got)
	}
}
