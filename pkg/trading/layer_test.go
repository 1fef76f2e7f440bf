package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tradecache/internal/testutil"
	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/invalidation"
)

func newTestLayer(t *testing.T, clock *testutil.Clock, configure ...func(*Config)) (*Layer, *cache.Manager) {
	t.Helper()

	manager, _ := testutil.NewManager(t, clock)
	return newLayerOn(t, manager, clock, configure...), manager
}

func newLayerOn(t *testing.T, manager *cache.Manager, clock *testutil.Clock, configure ...func(*Config)) *Layer {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.QuoteUpdateSpec, cfg.OrderBookUpdateSpec, cfg.PortfolioUpdateSpec, cfg.MetricsUpdateSpec = "", "", "", ""
	for _, fn := range configure {
		fn(&cfg)
	}

	l, err := New(manager, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestLayer_QuoteRoundTrip(t *testing.T) {
	clock := testutil.NewClock()
	l, manager := newTestLayer(t, clock)
	ctx := context.Background()

	q := Quote{Symbol: "BTC-USD", Price: 50000, Volume: 1000}
	if ok, err := l.SetQuote(ctx, q); err != nil || !ok {
		t.Fatalf("SetQuote() = %v, %v, want true, nil", ok, err)
	}

	got, found, err := l.GetQuote(ctx, "BTC-USD")
	if err != nil || !found {
		t.Fatalf("GetQuote() found=%v err=%v", found, err)
	}
	if got.Price != 50000 || got.Timestamp.IsZero() {
		t.Errorf("GetQuote() = %+v, want price 50000 and a timestamp", got)
	}

	// mirrored into the cache manager
	if _, found, _ := manager.Get(ctx, "BTC-USD", cache.TypeMarketData); !found {
		t.Error("quote not mirrored into the cache manager")
	}

	stats := l.Stats()
	if stats.MirrorHits != 1 || stats.Quotes != 1 || stats.Writes != 1 {
		t.Errorf("Stats() = %+v, want 1 mirror hit, 1 quote, 1 write", stats)
	}
}

func TestLayer_QuoteExpiresAfterTTL(t *testing.T) {
	clock := testutil.NewClock()
	manager, mr := testutil.NewManager(t, clock)
	l := newLayerOn(t, manager, clock)
	ctx := context.Background()

	l.SetQuote(ctx, Quote{Symbol: "ETH-USD", Price: 3000})
	clock.Advance(1500 * time.Millisecond)
	mr.FastForward(1500 * time.Millisecond)

	if _, found, _ := l.GetQuote(ctx, "ETH-USD"); found {
		t.Error("GetQuote() after quote TTL = hit, want miss")
	}
}

func TestLayer_CacheFallbackRefillsMirror(t *testing.T) {
	clock := testutil.NewClock()
	l, manager := newTestLayer(t, clock)
	ctx := context.Background()

	p := Portfolio{UserID: "user-1", Cash: 1000, Positions: []Position{{Symbol: "BTC-USD", Quantity: 0.5}}}
	if _, err := manager.Set(ctx, "user-1", p, cache.TypePortfolio, 0); err != nil {
		t.Fatalf("manager.Set() error = %v", err)
	}

	got, found, err := l.GetPortfolio(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("GetPortfolio() found=%v err=%v", found, err)
	}
	if got.Cash != 1000 || len(got.Positions) != 1 {
		t.Errorf("GetPortfolio() = %+v", got)
	}

	l.GetPortfolio(ctx, "user-1")
	stats := l.Stats()
	if stats.CacheHits != 1 || stats.MirrorHits != 1 || stats.MirrorMisses != 1 {
		t.Errorf("Stats() = %+v, want 1 cache hit, 1 mirror hit, 1 mirror miss", stats)
	}
}

func TestLayer_BatchQuotes(t *testing.T) {
	clock := testutil.NewClock()
	l, manager := newTestLayer(t, clock)
	ctx := context.Background()

	n, err := l.BatchSetQuotes(ctx, []Quote{
		{Symbol: "BTC-USD", Price: 1},
		{Symbol: "ETH-USD", Price: 2},
	})
	if err != nil || n != 2 {
		t.Fatalf("BatchSetQuotes() = %d, %v, want 2, nil", n, err)
	}

	// a quote written by another instance is only in the cache
	manager.Set(ctx, "SOL-USD", Quote{Symbol: "SOL-USD", Price: 3}, cache.TypeMarketData, 0)

	got, err := l.BatchGetQuotes(ctx, []string{"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD"})
	if err != nil {
		t.Fatalf("BatchGetQuotes() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("BatchGetQuotes() = %d quotes, want 3", len(got))
	}
	if got["SOL-USD"].Price != 3 {
		t.Errorf("SOL-USD price = %v, want 3", got["SOL-USD"].Price)
	}

	if _, err := l.BatchSetQuotes(ctx, []Quote{{Price: 1}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("BatchSetQuotes(no symbol) error = %v, want ErrInvalidInput", err)
	}
}

func TestLayer_Validation(t *testing.T) {
	l, _ := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	checks := []struct {
		name string
		err  error
	}{
		{"quote", func() error { _, err := l.SetQuote(ctx, Quote{}); return err }()},
		{"order book", func() error { _, err := l.SetOrderBook(ctx, OrderBook{}); return err }()},
		{"session", func() error { _, err := l.SetSession(ctx, Session{ID: "s"}); return err }()},
		{"portfolio", func() error { _, err := l.SetPortfolio(ctx, Portfolio{}); return err }()},
		{"metric", func() error { _, err := l.SetMetric(ctx, Metric{Symbol: "BTC-USD"}); return err }()},
	}
	for _, c := range checks {
		if !errors.Is(c.err, ErrInvalidInput) {
			t.Errorf("%s: error = %v, want ErrInvalidInput", c.name, c.err)
		}
	}
}

func TestLayer_OrderBookAndMetric(t *testing.T) {
	l, _ := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	book := OrderBook{
		Symbol: "BTC-USD",
		Bids:   []BookLevel{{Price: 99, Size: 1}},
		Asks:   []BookLevel{{Price: 101, Size: 2}},
	}
	l.SetOrderBook(ctx, book)
	got, found, _ := l.GetOrderBook(ctx, "BTC-USD")
	if !found || got.Spread() != 2 {
		t.Errorf("GetOrderBook() = %+v, %v, want spread 2", got, found)
	}

	l.SetMetric(ctx, Metric{Symbol: "BTC-USD", Name: "sma20", Value: 48000})
	m, found, _ := l.GetMetric(ctx, "BTC-USD", "sma20")
	if !found || m.Value != 48000 {
		t.Errorf("GetMetric() = %+v, %v, want 48000", m, found)
	}
}

func TestLayer_InvalidateSessionData(t *testing.T) {
	l, manager := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	l.SetSession(ctx, Session{ID: "sess-1", UserID: "user-1"})

	if got := l.InvalidateSessionData(ctx, "sess-1"); got != 2 {
		t.Errorf("InvalidateSessionData() = %d, want 2 (mirror and cache)", got)
	}
	if _, found, _ := l.GetSession(ctx, "sess-1"); found {
		t.Error("session still readable after invalidation")
	}
	if ok, _ := manager.Exists(ctx, "sess-1", cache.TypeTradingSession); ok {
		t.Error("session still in cache after invalidation")
	}
}

func TestLayer_InvalidateUserData(t *testing.T) {
	l, manager := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	l.SetSession(ctx, Session{ID: "sess-1", UserID: "user-1"})
	l.SetSession(ctx, Session{ID: "sess-2", UserID: "user-2"})
	l.SetPortfolio(ctx, Portfolio{UserID: "user-1", Cash: 10})

	l.InvalidateUserData(ctx, "user-1")

	if _, found, _ := l.GetPortfolio(ctx, "user-1"); found {
		t.Error("portfolio still readable after user invalidation")
	}
	if _, found, _ := l.GetSession(ctx, "sess-1"); found {
		t.Error("user's session still readable after user invalidation")
	}
	if _, found, _ := l.GetSession(ctx, "sess-2"); !found {
		t.Error("other user's session removed")
	}
	if ok, _ := manager.Exists(ctx, "user-1", cache.TypePortfolio); ok {
		t.Error("portfolio still in cache")
	}
}

func TestLayer_InvalidationHook(t *testing.T) {
	l, manager := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	engine, err := invalidation.New(manager, invalidation.Config{Hooks: []invalidation.Hook{l}})
	if err != nil {
		t.Fatalf("invalidation.New() error = %v", err)
	}
	defer engine.Close()

	l.SetQuote(ctx, Quote{Symbol: "BTC-USD", Price: 1})
	l.SetSession(ctx, Session{ID: "sess-1", UserID: "user-1"})

	engine.Invalidate(ctx, "market:*", nil)
	if _, found, _ := l.GetQuote(ctx, "BTC-USD"); found {
		t.Error("quote mirror not cleared by market invalidation")
	}

	engine.Invalidate(ctx, "portfolio:*", invalidation.Metadata{"sessionId": "sess-1"})
	if _, found, _ := l.GetSession(ctx, "sess-1"); found {
		t.Error("session not cleared by sessionId metadata")
	}
}

func TestLayer_EmitUpdate(t *testing.T) {
	l, _ := newTestLayer(t, testutil.NewClock())
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []UpdateEvent
	)
	l.AddListener(UpdateListenerFunc(func(_ context.Context, ev UpdateEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))

	l.TrackSymbol("ETH-USD")
	l.TrackSymbol("BTC-USD")
	l.SetPortfolio(ctx, Portfolio{UserID: "user-1"})

	quoteEv := l.EmitUpdate(ctx, KindMarketData)
	if len(quoteEv.Keys) != 2 || quoteEv.Keys[0] != "BTC-USD" {
		t.Errorf("market data event keys = %v, want [BTC-USD ETH-USD]", quoteEv.Keys)
	}
	portfolioEv := l.EmitUpdate(ctx, KindPortfolio)
	if len(portfolioEv.Keys) != 1 || portfolioEv.Keys[0] != "user-1" {
		t.Errorf("portfolio event keys = %v, want [user-1]", portfolioEv.Keys)
	}

	mu.Lock()
	if len(events) != 2 {
		t.Errorf("listener received %d events, want 2", len(events))
	}
	mu.Unlock()

	if got := l.Stats().UpdateEvents[KindMarketData]; got != 1 {
		t.Errorf("UpdateEvents[market_data] = %d, want 1", got)
	}

	l.UntrackSymbol("ETH-USD")
	if got := l.Symbols(); len(got) != 1 {
		t.Errorf("Symbols() = %v, want 1 symbol", got)
	}
}

func TestLayer_ScheduledUpdates(t *testing.T) {
	fired := make(chan UpdateEvent, 4)
	l, _ := newTestLayer(t, testutil.NewClock(), func(c *Config) {
		c.QuoteUpdateSpec = "@every 1s"
		c.Listeners = []UpdateListener{UpdateListenerFunc(func(_ context.Context, ev UpdateEvent) {
			select {
			case fired <- ev:
			default:
			}
		})}
	})
	l.Start()

	select {
	case ev := <-fired:
		if ev.Kind != KindMarketData {
			t.Errorf("scheduled event kind = %q, want %q", ev.Kind, KindMarketData)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no scheduled update within 3s")
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	manager, _ := testutil.NewManager(t, nil)
	cfg := DefaultConfig()
	cfg.QuoteUpdateSpec = "every now and then"

	if _, err := New(manager, cfg); err == nil {
		t.Error("New() with invalid cron spec error = nil")
	}
}
