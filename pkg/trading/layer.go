// Package trading is the trading-specific façade over the tiered cache.
//
// It applies per-type freshness (quotes 1s, order books 2s, sessions 60s,
// portfolios 30s, derived metrics 5m), keeps in-process mirrors for
// zero-serialization reads, mirrors every write into the cache manager and
// emits "update required" events on a schedule. Fetching fresh data is left
// to the listeners of those events.
package trading

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// Cache is the subset of the cache manager used by the layer.
type Cache interface {
	Get(ctx context.Context, key, dataType string) (any, bool, error)
	Set(ctx context.Context, key string, value any, dataType string, ttl time.Duration) (bool, error)
	GetMany(ctx context.Context, keys []string, dataType string) (map[string]any, error)
	SetMany(ctx context.Context, values map[string]any, dataType string, ttl time.Duration) (int, error)
	Invalidate(ctx context.Context, key, dataType string) (bool, error)
}

// Update kinds carried by UpdateEvent.
const (
	KindMarketData     = cache.TypeMarketData
	KindOrderBook      = cache.TypeOrderBook
	KindPortfolio      = cache.TypePortfolio
	KindDerivedMetrics = cache.TypeDerivedMetrics
)

// UpdateEvent asks listeners to refresh the listed keys of a kind.
type UpdateEvent struct {
	Kind string    `json:"kind"`
	Keys []string  `json:"keys"`
	At   time.Time `json:"at"`
}

// UpdateListener receives update-required events.
type UpdateListener interface {
	OnUpdateRequired(ctx context.Context, ev UpdateEvent)
}

// UpdateListenerFunc adapts a function to UpdateListener.
type UpdateListenerFunc func(ctx context.Context, ev UpdateEvent)

// OnUpdateRequired calls f.
func (f UpdateListenerFunc) OnUpdateRequired(ctx context.Context, ev UpdateEvent) { f(ctx, ev) }

// Config holds the Layer configuration.
type Config struct {
	QuoteTTL     time.Duration
	OrderBookTTL time.Duration
	SessionTTL   time.Duration
	PortfolioTTL time.Duration
	MetricsTTL   time.Duration

	// Cron specs of the update-required schedules. Empty disables a schedule.
	QuoteUpdateSpec     string
	OrderBookUpdateSpec string
	PortfolioUpdateSpec string
	MetricsUpdateSpec   string

	Listeners []UpdateListener
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// DefaultConfig returns the trading freshness defaults.
func DefaultConfig() Config {
	return Config{
		QuoteTTL:            time.Second,
		OrderBookTTL:        2 * time.Second,
		SessionTTL:          time.Minute,
		PortfolioTTL:        30 * time.Second,
		MetricsTTL:          5 * time.Minute,
		QuoteUpdateSpec:     "@every 1s",
		OrderBookUpdateSpec: "@every 2s",
		PortfolioUpdateSpec: "@every 30s",
		MetricsUpdateSpec:   "@every 5m",
		Now:                 time.Now,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = def.QuoteTTL
	}
	if c.OrderBookTTL <= 0 {
		c.OrderBookTTL = def.OrderBookTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.PortfolioTTL <= 0 {
		c.PortfolioTTL = def.PortfolioTTL
	}
	if c.MetricsTTL <= 0 {
		c.MetricsTTL = def.MetricsTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats are the layer's counters and mirror sizes.
type Stats struct {
	Quotes         int              `json:"quotes"`
	OrderBooks     int              `json:"orderBooks"`
	Sessions       int              `json:"sessions"`
	Portfolios     int              `json:"portfolios"`
	Metrics        int              `json:"metrics"`
	TrackedSymbols int              `json:"trackedSymbols"`
	MirrorHits     int64            `json:"mirrorHits"`
	MirrorMisses   int64            `json:"mirrorMisses"`
	CacheHits      int64            `json:"cacheHits"`
	Writes         int64            `json:"writes"`
	Invalidations  int64            `json:"invalidations"`
	UpdateEvents   map[string]int64 `json:"updateEvents"`
}

// Layer is the trading cache façade.
type Layer struct {
	cache  Cache
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	quotes     *mirror[Quote]
	books      *mirror[OrderBook]
	sessions   *mirror[Session]
	portfolios *mirror[Portfolio]
	metrics    *mirror[Metric]

	mu        sync.RWMutex
	symbols   map[string]struct{}
	listeners []UpdateListener
	updates   map[string]int64

	mirrorHits, mirrorMisses, cacheHits atomic.Int64
	writes, invalidations               atomic.Int64

	scheduler *cron.Cron
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a trading layer over c and registers the update schedules.
// The schedules run after Start.
func New(c Cache, cfg Config) (*Layer, error) {
	if c == nil {
		return nil, fmt.Errorf("trading layer: cache is required")
	}
	cfg.applyDefaults()

	logger := log.With().Str("component", "trading").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	l := &Layer{
		cache:      c,
		cfg:        cfg,
		now:        cfg.Now,
		logger:     logger,
		quotes:     newMirror[Quote](cfg.Now),
		books:      newMirror[OrderBook](cfg.Now),
		sessions:   newMirror[Session](cfg.Now),
		portfolios: newMirror[Portfolio](cfg.Now),
		metrics:    newMirror[Metric](cfg.Now),
		symbols:    make(map[string]struct{}),
		listeners:  append([]UpdateListener(nil), cfg.Listeners...),
		updates:    make(map[string]int64),
		scheduler:  cron.New(cron.WithLogger(cronLogger{logger: logger})),
	}

	schedules := []struct {
		spec string
		kind string
	}{
		{cfg.QuoteUpdateSpec, KindMarketData},
		{cfg.OrderBookUpdateSpec, KindOrderBook},
		{cfg.PortfolioUpdateSpec, KindPortfolio},
		{cfg.MetricsUpdateSpec, KindDerivedMetrics},
	}
	for _, s := range schedules {
		if s.spec == "" {
			continue
		}
		kind := s.kind
		if _, err := l.scheduler.AddFunc(s.spec, func() { l.EmitUpdate(context.Background(), kind) }); err != nil {
			return nil, fmt.Errorf("schedule %s updates %q: %w", kind, s.spec, err)
		}
	}
	return l, nil
}

// AddListener registers an update listener.
func (l *Layer) AddListener(ul UpdateListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, ul)
}

// Start begins emitting scheduled update events.
func (l *Layer) Start() {
	l.startOnce.Do(func() {
		l.scheduler.Start()
		l.logger.Info().Int("schedules", len(l.scheduler.Entries())).Msg("Trading update scheduler started")
	})
}

// Close stops the schedules, waits for running jobs and clears the mirrors.
func (l *Layer) Close() {
	l.closeOnce.Do(func() {
		<-l.scheduler.Stop().Done()
		l.quotes.clear()
		l.books.clear()
		l.sessions.clear()
		l.portfolios.clear()
		l.metrics.clear()
		l.logger.Info().Msg("Trading layer stopped")
	})
}

// TrackSymbol adds a symbol to the market-data update schedule.
func (l *Layer) TrackSymbol(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symbols[symbol] = struct{}{}
}

// UntrackSymbol removes a symbol from the update schedule.
func (l *Layer) UntrackSymbol(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.symbols, symbol)
}

// Symbols returns the tracked symbols, sorted.
func (l *Layer) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.symbols))
	for s := range l.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// EmitUpdate notifies listeners that kind needs refreshing. Market data and
// order books list the tracked symbols; portfolios list the mirrored users.
func (l *Layer) EmitUpdate(ctx context.Context, kind string) UpdateEvent {
	var keys []string
	switch kind {
	case KindMarketData, KindOrderBook, KindDerivedMetrics:
		keys = l.Symbols()
	case KindPortfolio:
		keys = l.portfolios.keys()
	}
	if keys == nil {
		keys = []string{}
	}
	ev := UpdateEvent{Kind: kind, Keys: keys, At: l.now()}

	l.mu.Lock()
	l.updates[kind]++
	listeners := append([]UpdateListener(nil), l.listeners...)
	l.mu.Unlock()

	UpdateEvents.WithLabelValues(kind).Inc()
	for _, ul := range listeners {
		ul.OnUpdateRequired(ctx, ev)
	}
	l.logger.Debug().Str("kind", kind).Int("keys", len(keys)).Msg("Update required")
	return ev
}

// SetQuote stores a quote in the mirror and the cache.
func (l *Layer) SetQuote(ctx context.Context, q Quote) (bool, error) {
	if err := q.Validate(); err != nil {
		return false, err
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = l.now()
	}
	l.quotes.set(q.Symbol, q, l.cfg.QuoteTTL)
	return l.store(ctx, q.Symbol, q, cache.TypeMarketData, l.cfg.QuoteTTL)
}

// GetQuote returns the quote of symbol.
func (l *Layer) GetQuote(ctx context.Context, symbol string) (Quote, bool, error) {
	return load(ctx, l, l.quotes, "quote", symbol, cache.TypeMarketData, l.cfg.QuoteTTL)
}

// BatchSetQuotes stores several quotes with one cache multi-write.
func (l *Layer) BatchSetQuotes(ctx context.Context, quotes []Quote) (int, error) {
	values := make(map[string]any, len(quotes))
	for _, q := range quotes {
		if err := q.Validate(); err != nil {
			return 0, err
		}
		if q.Timestamp.IsZero() {
			q.Timestamp = l.now()
		}
		l.quotes.set(q.Symbol, q, l.cfg.QuoteTTL)
		values[q.Symbol] = q
	}
	n, err := l.cache.SetMany(ctx, values, cache.TypeMarketData, l.cfg.QuoteTTL)
	if err != nil {
		return 0, err
	}
	l.writes.Add(int64(n))
	return n, nil
}

// BatchGetQuotes returns the quotes found for symbols. Mirror misses are
// read from the cache in one batch.
func (l *Layer) BatchGetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	var missing []string
	for _, s := range symbols {
		if q, ok := l.quotes.get(s); ok {
			out[s] = q
			l.mirrorHit("quote")
			continue
		}
		l.mirrorMiss("quote")
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := l.cache.GetMany(ctx, missing, cache.TypeMarketData)
	if err != nil {
		return nil, err
	}
	for symbol, raw := range found {
		q, err := cache.As[Quote](raw)
		if err != nil {
			l.logger.Warn().Err(err).Str("symbol", symbol).Msg("Malformed cached quote")
			continue
		}
		l.quotes.set(symbol, q, l.cfg.QuoteTTL)
		l.cacheHits.Add(1)
		out[symbol] = q
	}
	return out, nil
}

// SetOrderBook stores an order book.
func (l *Layer) SetOrderBook(ctx context.Context, b OrderBook) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = l.now()
	}
	l.books.set(b.Symbol, b, l.cfg.OrderBookTTL)
	return l.store(ctx, b.Symbol, b, cache.TypeOrderBook, l.cfg.OrderBookTTL)
}

// GetOrderBook returns the order book of symbol.
func (l *Layer) GetOrderBook(ctx context.Context, symbol string) (OrderBook, bool, error) {
	return load(ctx, l, l.books, "order_book", symbol, cache.TypeOrderBook, l.cfg.OrderBookTTL)
}

// SetSession stores a trading session.
func (l *Layer) SetSession(ctx context.Context, s Session) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = l.now()
	}
	l.sessions.set(s.ID, s, l.cfg.SessionTTL)
	return l.store(ctx, s.ID, s, cache.TypeTradingSession, l.cfg.SessionTTL)
}

// GetSession returns a trading session.
func (l *Layer) GetSession(ctx context.Context, id string) (Session, bool, error) {
	return load(ctx, l, l.sessions, "session", id, cache.TypeTradingSession, l.cfg.SessionTTL)
}

// SetPortfolio stores a portfolio.
func (l *Layer) SetPortfolio(ctx context.Context, p Portfolio) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = l.now()
	}
	l.portfolios.set(p.UserID, p, l.cfg.PortfolioTTL)
	return l.store(ctx, p.UserID, p, cache.TypePortfolio, l.cfg.PortfolioTTL)
}

// GetPortfolio returns a user's portfolio.
func (l *Layer) GetPortfolio(ctx context.Context, userID string) (Portfolio, bool, error) {
	return load(ctx, l, l.portfolios, "portfolio", userID, cache.TypePortfolio, l.cfg.PortfolioTTL)
}

// SetMetric stores a derived metric.
func (l *Layer) SetMetric(ctx context.Context, m Metric) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	if m.ComputedAt.IsZero() {
		m.ComputedAt = l.now()
	}
	l.metrics.set(m.Key(), m, l.cfg.MetricsTTL)
	return l.store(ctx, m.Key(), m, cache.TypeDerivedMetrics, l.cfg.MetricsTTL)
}

// GetMetric returns a derived metric of symbol.
func (l *Layer) GetMetric(ctx context.Context, symbol, name string) (Metric, bool, error) {
	return load(ctx, l, l.metrics, "metric", MetricKey(symbol, name), cache.TypeDerivedMetrics, l.cfg.MetricsTTL)
}

func (l *Layer) store(ctx context.Context, key string, value any, dataType string, ttl time.Duration) (bool, error) {
	ok, err := l.cache.Set(ctx, key, value, dataType, ttl)
	if err != nil {
		return false, err
	}
	if ok {
		l.writes.Add(1)
	}
	return ok, nil
}

// load reads key from the mirror, falling back to the cache manager and
// refilling the mirror on a hit.
func load[T any](ctx context.Context, l *Layer, m *mirror[T], kind, key, dataType string, ttl time.Duration) (T, bool, error) {
	if v, ok := m.get(key); ok {
		l.mirrorHit(kind)
		return v, true, nil
	}
	l.mirrorMiss(kind)

	var zero T
	raw, found, err := l.cache.Get(ctx, key, dataType)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := cache.As[T](raw)
	if err != nil {
		l.logger.Warn().Err(err).Str("kind", kind).Str("key", key).Msg("Malformed cached value")
		return zero, false, nil
	}
	m.set(key, v, ttl)
	l.cacheHits.Add(1)
	return v, true, nil
}

func (l *Layer) mirrorHit(kind string) {
	l.mirrorHits.Add(1)
	MirrorReads.WithLabelValues(kind, "hit").Inc()
}

func (l *Layer) mirrorMiss(kind string) {
	l.mirrorMisses.Add(1)
	MirrorReads.WithLabelValues(kind, "miss").Inc()
}

// InvalidateSessionData removes a session from the mirror and the cache and
// returns how many entries were removed.
func (l *Layer) InvalidateSessionData(ctx context.Context, sessionID string) int {
	removed := 0
	if l.sessions.delete(sessionID) {
		removed++
	}
	if ok, err := l.cache.Invalidate(ctx, sessionID, cache.TypeTradingSession); err == nil && ok {
		removed++
	}
	l.invalidations.Add(1)
	l.logger.Info().Str("session_id", sessionID).Int("removed", removed).Msg("Session data invalidated")
	return removed
}

// InvalidateUserData removes a user's portfolio, sessions and profile from
// the mirrors and the cache and returns how many entries were removed.
func (l *Layer) InvalidateUserData(ctx context.Context, userID string) int {
	removed := 0
	if l.portfolios.delete(userID) {
		removed++
	}
	sessions := l.sessions.deleteFunc(func(_ string, s Session) bool { return s.UserID == userID })
	removed += len(sessions)

	targets := []struct{ key, dataType string }{
		{userID, cache.TypePortfolio},
		{userID, cache.TypeUserProfile},
	}
	for _, id := range sessions {
		targets = append(targets, struct{ key, dataType string }{id, cache.TypeTradingSession})
	}
	for _, t := range targets {
		if ok, err := l.cache.Invalidate(ctx, t.key, t.dataType); err == nil && ok {
			removed++
		}
	}

	l.invalidations.Add(1)
	l.logger.Info().Str("user_id", userID).Int("removed", removed).Msg("User data invalidated")
	return removed
}

// evictKeys drops mirror entries for full cache keys removed elsewhere.
func (l *Layer) evictKeys(keys []string) {
	for _, full := range keys {
		prefix, id, ok := strings.Cut(full, ":")
		if !ok {
			continue
		}
		switch prefix + ":" {
		case "market:":
			l.quotes.delete(id)
		case "orderbook:":
			l.books.delete(id)
		case "session:":
			l.sessions.delete(id)
		case "portfolio:":
			l.portfolios.delete(id)
		case "metrics:":
			l.metrics.delete(id)
		}
	}
}

// Stats returns the layer counters.
func (l *Layer) Stats() Stats {
	l.mu.RLock()
	updates := make(map[string]int64, len(l.updates))
	for k, v := range l.updates {
		updates[k] = v
	}
	tracked := len(l.symbols)
	l.mu.RUnlock()

	return Stats{
		Quotes:         l.quotes.len(),
		OrderBooks:     l.books.len(),
		Sessions:       l.sessions.len(),
		Portfolios:     l.portfolios.len(),
		Metrics:        l.metrics.len(),
		TrackedSymbols: tracked,
		MirrorHits:     l.mirrorHits.Load(),
		MirrorMisses:   l.mirrorMisses.Load(),
		CacheHits:      l.cacheHits.Load(),
		Writes:         l.writes.Load(),
		Invalidations:  l.invalidations.Load(),
		UpdateEvents:   updates,
	}
}

// cronLogger routes scheduler logs through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
