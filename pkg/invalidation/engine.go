package invalidation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// Cache is the subset of the cache manager used by the engine.
type Cache interface {
	Registry() *cache.Registry
	DeletePattern(ctx context.Context, pattern string) ([]string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	DeleteKey(ctx context.Context, fullKey string) (bool, error)
	Exists(ctx context.Context, key, dataType string) (bool, error)
}

// Metadata is the caller-supplied context of a trigger, e.g. sessionId,
// userId or key.
type Metadata map[string]string

// Notification is passed to hooks after keys were removed.
type Notification struct {
	Rule     Rule
	Trigger  string
	Keys     []string
	Metadata Metadata
}

// Hook is notified after an immediate-path deletion.
type Hook interface {
	OnInvalidate(ctx context.Context, n Notification)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, n Notification)

// OnInvalidate calls f.
func (f HookFunc) OnInvalidate(ctx context.Context, n Notification) { f(ctx, n) }

// Event is the audit record of one rule execution.
type Event struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"ruleId"`
	Pattern      string    `json:"pattern"`
	Trigger      string    `json:"trigger"`
	Strategy     Strategy  `json:"strategy"`
	Timestamp    time.Time `json:"timestamp"`
	AffectedKeys []string  `json:"affectedKeys"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`

	// Deferred marks the later execution of a lazy or time-based rule.
	Deferred bool `json:"deferred,omitempty"`
}

// Stats are the engine-level totals.
type Stats struct {
	TotalInvalidations      int64              `json:"totalInvalidations"`
	SuccessfulInvalidations int64              `json:"successfulInvalidations"`
	FailedInvalidations     int64              `json:"failedInvalidations"`
	AffectedKeys            int64              `json:"affectedKeys"`
	ByStrategy              map[Strategy]int64 `json:"byStrategy"`
	Rules                   int                `json:"rules"`
	EnabledRules            int                `json:"enabledRules"`
	LazyQueue               int                `json:"lazyQueue"`
	PendingTimers           int                `json:"pendingTimers"`
	LastInvalidationAt      *time.Time         `json:"lastInvalidationAt,omitempty"`
}

// Config holds the Engine configuration.
type Config struct {
	// Rules is the initial rule set. When empty and NoDefaultRules is false,
	// RulesFromRegistry is used.
	Rules          []Rule
	NoDefaultRules bool

	// LazyInterval is the drain tick of lazy invalidations (default 5s).
	LazyInterval time.Duration

	// LazyBatchSize is how many lazy items a tick executes (default 10).
	LazyBatchSize int

	// EventCapacity bounds the audit ring (default 1000).
	EventCapacity int

	Hooks []Hook
	Now   func() time.Time

	// AfterFunc schedules time-based invalidations (default: time.AfterFunc).
	AfterFunc func(d time.Duration, f func()) Timer

	Logger *zerolog.Logger
}

// Timer is a pending time-based invalidation.
type Timer interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type lazyItem struct {
	rule     Rule
	trigger  string
	metadata Metadata
}

// Engine executes invalidation rules against the cache.
type Engine struct {
	cache  Cache
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.RWMutex
	rules map[string]Rule
	hooks []Hook

	eventsMu sync.Mutex
	events   []Event

	lazyMu sync.Mutex
	lazy   []lazyItem

	timersMu sync.Mutex
	timers   map[string]Timer
	closed   bool

	statsMu sync.Mutex
	stats   Stats

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates an invalidation engine over c.
func New(c Cache, cfg Config) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("invalidation engine: cache is required")
	}
	if cfg.LazyInterval <= 0 {
		cfg.LazyInterval = 5 * time.Second
	}
	if cfg.LazyBatchSize <= 0 {
		cfg.LazyBatchSize = 10
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = afterFunc
	}

	logger := log.With().Str("component", "invalidation").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	e := &Engine{
		cache:  c,
		cfg:    cfg,
		now:    cfg.Now,
		logger: logger,
		rules:  make(map[string]Rule),
		hooks:  append([]Hook(nil), cfg.Hooks...),
		timers: make(map[string]Timer),
		stopCh: make(chan struct{}),
		stats:  Stats{ByStrategy: make(map[Strategy]int64)},
	}

	rules := cfg.Rules
	if len(rules) == 0 && !cfg.NoDefaultRules {
		rules = RulesFromRegistry(c.Registry())
	}
	for _, r := range rules {
		if _, err := e.AddRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddHook registers a hook called after immediate-path deletions.
func (e *Engine) AddHook(h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// Start launches the lazy drainer.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.lazyLoop()
		e.logger.Info().
			Int("rules", len(e.Rules())).
			Dur("lazy_interval", e.cfg.LazyInterval).
			Msg("Invalidation engine started")
	})
}

// Close stops the drainer and cancels pending time-based invalidations.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()

		e.timersMu.Lock()
		e.closed = true
		for id, t := range e.timers {
			t.Stop()
			delete(e.timers, id)
		}
		PendingTimers.Set(0)
		e.timersMu.Unlock()

		e.logger.Info().Int("lazy_pending", e.lazyLen()).Msg("Invalidation engine stopped")
	})
}

// AddRule validates and registers a rule. An empty id is generated.
func (e *Engine) AddRule(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	if r.ID == "" {
		r.ID = newRuleID()
	}
	r.Dependencies = append([]string(nil), r.Dependencies...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[r.ID]; exists {
		return Rule{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
	}
	e.rules[r.ID] = r

	e.logger.Info().
		Str("rule_id", r.ID).
		Str("pattern", r.Pattern).
		Str("strategy", string(r.Strategy)).
		Int("priority", r.Priority).
		Msg("Invalidation rule added")
	return r, nil
}

// RemoveRule deletes a rule.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(e.rules, id)
	e.logger.Info().Str("rule_id", id).Msg("Invalidation rule removed")
	return nil
}

// UpdateRule applies a partial update and re-validates the rule.
func (e *Engine) UpdateRule(id string, u RuleUpdate) (Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.rules[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	updated := u.apply(current)
	if err := updated.Validate(); err != nil {
		return Rule{}, err
	}
	e.rules[id] = updated
	e.logger.Info().Str("rule_id", id).Msg("Invalidation rule updated")
	return updated, nil
}

// Rule returns a rule by id.
func (e *Engine) Rule(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r, nil
}

// Rules returns all rules ordered by descending priority.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	e.mu.RUnlock()
	sortByPriority(out)
	return out
}

// Invalidate runs every enabled rule whose pattern matches trigger, by
// descending priority, and returns one event per matched rule. A failing
// rule does not stop the others.
func (e *Engine) Invalidate(ctx context.Context, trigger string, md Metadata) []Event {
	e.mu.RLock()
	var matched []Rule
	for _, r := range e.rules {
		if r.Enabled && r.Matches(trigger) {
			matched = append(matched, r)
		}
	}
	e.mu.RUnlock()
	sortByPriority(matched)

	if len(matched) == 0 {
		e.logger.Debug().Str("trigger", trigger).Msg("No invalidation rule matched")
		return []Event{}
	}

	events := make([]Event, 0, len(matched))
	for _, r := range matched {
		ev := e.execute(ctx, r, trigger, md)
		e.record(ev, true)
		events = append(events, ev)
	}
	return events
}

// execute runs one rule and converts panics into a failed event.
func (e *Engine) execute(ctx context.Context, r Rule, trigger string, md Metadata) (ev Event) {
	ev = e.newEvent(r, trigger)
	defer func() {
		if p := recover(); p != nil {
			ev.Success = false
			ev.Error = fmt.Sprintf("panic: %v", p)
			e.logger.Error().Str("rule_id", r.ID).Interface("panic", p).Msg("Invalidation rule panicked")
		}
	}()

	var (
		keys []string
		err  error
	)
	switch r.Strategy {
	case StrategyImmediate:
		keys, err = e.immediate(ctx, r, trigger, md)
	case StrategyLazy:
		e.enqueueLazy(r, trigger, md)
	case StrategyTimeBased:
		e.schedule(r, trigger, md)
	case StrategyDependency:
		var absent bool
		absent, err = e.dependencyAbsent(ctx, r, trigger, md)
		if err == nil && absent {
			keys, err = e.immediate(ctx, r, trigger, md)
		}
	case StrategyPattern:
		keys, err = e.patternScan(ctx, r, trigger, md)
	default:
		err = fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, r.Strategy)
	}

	ev.AffectedKeys = nonNil(keys)
	ev.Success = err == nil
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// immediate deletes the rule's keys through the store-level pattern delete
// and notifies hooks.
func (e *Engine) immediate(ctx context.Context, r Rule, trigger string, md Metadata) ([]string, error) {
	keys, err := e.cache.DeletePattern(ctx, r.Pattern)
	if len(keys) > 0 || err == nil {
		e.notify(ctx, Notification{Rule: r, Trigger: trigger, Keys: keys, Metadata: md})
	}
	return keys, err
}

// patternScan enumerates live keys and deletes each regex match individually.
func (e *Engine) patternScan(ctx context.Context, r Rule, trigger string, md Metadata) ([]string, error) {
	re, err := cache.PatternToRegexp(r.Pattern)
	if err != nil {
		return nil, err
	}
	live, err := e.cache.Keys(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("enumerate keys: %w", err)
	}

	var (
		deleted  []string
		firstErr error
	)
	for _, key := range live {
		if !re.MatchString(key) {
			continue
		}
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		ok, err := e.cache.DeleteKey(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", key, err)
		}
		if ok {
			deleted = append(deleted, key)
		}
	}

	e.notify(ctx, Notification{Rule: r, Trigger: trigger, Keys: deleted, Metadata: md})
	return deleted, firstErr
}

// dependencyAbsent reports whether any dependency of r is missing from the
// cache. The key checked is the "key" metadata, else the trigger's key part;
// without either, any live key of the dependency type counts as present.
func (e *Engine) dependencyAbsent(ctx context.Context, r Rule, trigger string, md Metadata) (bool, error) {
	key := md["key"]
	if key == "" {
		key = keyOf(trigger)
	}

	for _, dep := range r.Dependencies {
		cfg, err := e.cache.Registry().Lookup(dep)
		if err != nil {
			return false, err
		}

		if key != "" {
			ok, err := e.cache.Exists(ctx, key, dep)
			if err != nil {
				return false, err
			}
			if !ok {
				e.logger.Debug().Str("rule_id", r.ID).Str("dependency", cfg.Key(key)).Msg("Dependency absent")
				return true, nil
			}
			continue
		}

		keys, err := e.cache.Keys(ctx, cfg.KeyPrefix+"*")
		if err != nil {
			return false, fmt.Errorf("enumerate %s: %w", dep, err)
		}
		if len(keys) == 0 {
			e.logger.Debug().Str("rule_id", r.ID).Str("dependency", dep).Msg("Dependency type absent")
			return true, nil
		}
	}
	return false, nil
}

// keyOf returns the part after the first ':' of a wildcard-free trigger.
func keyOf(trigger string) string {
	if strings.Contains(trigger, "*") {
		return ""
	}
	if i := strings.IndexByte(trigger, ':'); i >= 0 && i < len(trigger)-1 {
		return trigger[i+1:]
	}
	return ""
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	e.mu.RLock()
	hooks := append([]Hook(nil), e.hooks...)
	e.mu.RUnlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error().Str("rule_id", n.Rule.ID).Interface("panic", p).Msg("Invalidation hook panicked")
				}
			}()
			h.OnInvalidate(ctx, n)
		}()
	}
}

func (e *Engine) enqueueLazy(r Rule, trigger string, md Metadata) {
	e.lazyMu.Lock()
	e.lazy = append(e.lazy, lazyItem{rule: r, trigger: trigger, metadata: md})
	LazyQueueDepth.Set(float64(len(e.lazy)))
	e.lazyMu.Unlock()
}

func (e *Engine) lazyLen() int {
	e.lazyMu.Lock()
	defer e.lazyMu.Unlock()
	return len(e.lazy)
}

// DrainLazy executes up to one batch of queued lazy invalidations and
// returns how many ran.
func (e *Engine) DrainLazy(ctx context.Context) int {
	e.lazyMu.Lock()
	n := e.cfg.LazyBatchSize
	if n > len(e.lazy) {
		n = len(e.lazy)
	}
	batch := make([]lazyItem, n)
	copy(batch, e.lazy[:n])
	e.lazy = e.lazy[n:]
	LazyQueueDepth.Set(float64(len(e.lazy)))
	e.lazyMu.Unlock()

	for _, item := range batch {
		e.runDeferred(ctx, item.rule, item.trigger, item.metadata)
	}
	return n
}

func (e *Engine) lazyLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.LazyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.DrainLazy(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) schedule(r Rule, trigger string, md Metadata) {
	id := uuid.NewString()

	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if e.closed {
		return
	}
	e.timers[id] = e.cfg.AfterFunc(r.Delay(), func() {
		e.timersMu.Lock()
		_, pending := e.timers[id]
		delete(e.timers, id)
		PendingTimers.Set(float64(len(e.timers)))
		e.timersMu.Unlock()

		if pending {
			e.runDeferred(context.Background(), r, trigger, md)
		}
	})
	PendingTimers.Set(float64(len(e.timers)))

	e.logger.Debug().Str("rule_id", r.ID).Dur("delay", r.Delay()).Msg("Time-based invalidation scheduled")
}

// runDeferred executes the immediate path for a lazy or time-based rule and
// appends a deferred event to the audit log.
func (e *Engine) runDeferred(ctx context.Context, r Rule, trigger string, md Metadata) {
	ev := e.newEvent(r, trigger)
	ev.Deferred = true

	keys, err := e.immediate(ctx, r, trigger, md)
	ev.AffectedKeys = nonNil(keys)
	ev.Success = err == nil
	if err != nil {
		ev.Error = err.Error()
	}
	e.record(ev, false)
}

func (e *Engine) newEvent(r Rule, trigger string) Event {
	return Event{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		Pattern:   r.Pattern,
		Trigger:   trigger,
		Strategy:  r.Strategy,
		Timestamp: e.now(),
	}
}

// record appends ev to the audit ring. Totals only count trigger-time events.
func (e *Engine) record(ev Event, countTotals bool) {
	result := "success"
	if !ev.Success {
		result = "failure"
	}
	InvalidationsTotal.WithLabelValues(string(ev.Strategy), result).Inc()
	InvalidatedKeys.Add(float64(len(ev.AffectedKeys)))

	e.eventsMu.Lock()
	e.events = append(e.events, ev)
	if over := len(e.events) - e.cfg.EventCapacity; over > 0 {
		e.events = e.events[over:]
	}
	e.eventsMu.Unlock()

	e.statsMu.Lock()
	e.stats.AffectedKeys += int64(len(ev.AffectedKeys))
	if countTotals {
		e.stats.TotalInvalidations++
		if ev.Success {
			e.stats.SuccessfulInvalidations++
		} else {
			e.stats.FailedInvalidations++
		}
		e.stats.ByStrategy[ev.Strategy]++
		ts := ev.Timestamp
		e.stats.LastInvalidationAt = &ts
	}
	e.statsMu.Unlock()

	logEvent := e.logger.Info()
	if !ev.Success {
		logEvent = e.logger.Warn().Str("error", ev.Error)
	}
	logEvent.
		Str("rule_id", ev.RuleID).
		Str("strategy", string(ev.Strategy)).
		Str("trigger", ev.Trigger).
		Int("keys", len(ev.AffectedKeys)).
		Bool("deferred", ev.Deferred).
		Msg("Invalidation executed")
}

// Events returns up to limit audit events, newest first. limit <= 0 returns all.
func (e *Engine) Events(limit int) []Event {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	n := len(e.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := len(e.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.events[i])
	}
	return out
}

// GetStats returns the engine totals.
func (e *Engine) GetStats() Stats {
	e.statsMu.Lock()
	s := e.stats
	s.ByStrategy = make(map[Strategy]int64, len(e.stats.ByStrategy))
	for k, v := range e.stats.ByStrategy {
		s.ByStrategy[k] = v
	}
	if e.stats.LastInvalidationAt != nil {
		ts := *e.stats.LastInvalidationAt
		s.LastInvalidationAt = &ts
	}
	e.statsMu.Unlock()

	e.mu.RLock()
	s.Rules = len(e.rules)
	for _, r := range e.rules {
		if r.Enabled {
			s.EnabledRules++
		}
	}
	e.mu.RUnlock()

	s.LazyQueue = e.lazyLen()

	e.timersMu.Lock()
	s.PendingTimers = len(e.timers)
	e.timersMu.Unlock()
	return s
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
