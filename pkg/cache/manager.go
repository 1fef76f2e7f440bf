package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ManagerConfig holds the Manager configuration.
type ManagerConfig struct {
	// Registry is the fixed set of data types (default: DefaultRegistry()).
	Registry *Registry

	// L2 is the shared remote tier. Nil disables L2 probes and writes.
	L2 Store

	// Edge is the L3 tier (default: NopStore).
	Edge Store

	// L1MaxEntries bounds the in-process tier.
	L1MaxEntries int

	// SweepInterval is how often expired L1 entries are removed proactively.
	SweepInterval time.Duration

	// WriteBehind configures the asynchronous propagation queue.
	WriteBehind WriteBehindConfig

	// ShutdownDrainTimeout bounds the write-behind drain performed by Close.
	ShutdownDrainTimeout time.Duration

	// Now is the clock used for TTL and LRU bookkeeping (default: time.Now).
	Now func() time.Time

	// Logger (default: component logger "cache-manager").
	Logger *zerolog.Logger
}

// DefaultManagerConfig returns a configuration with the given L2 store.
func DefaultManagerConfig(l2 Store) ManagerConfig {
	return ManagerConfig{
		Registry:             DefaultRegistry(),
		L2:                   l2,
		Edge:                 NopStore{},
		L1MaxEntries:         10000,
		SweepInterval:        5 * time.Minute,
		WriteBehind:          DefaultWriteBehindConfig(),
		ShutdownDrainTimeout: 10 * time.Second,
		Now:                  time.Now,
	}
}

// Manager is the tiered cache: L1 in-process, L2 shared store, L3 edge.
// All store failures are absorbed (counted and degraded to a miss/false);
// only configuration errors such as ErrUnknownDataType are returned.
type Manager struct {
	registry *Registry
	l1       *memoryStore
	l2       Store
	l3       Store
	queue    *writeBehindQueue
	flushMu  sync.Mutex
	stats    counters
	config   ManagerConfig
	now      func() time.Time
	logger   zerolog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a tiered cache manager. Background loops are started by Start.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Edge == nil {
		cfg.Edge = NopStore{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = 10000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.ShutdownDrainTimeout <= 0 {
		cfg.ShutdownDrainTimeout = 10 * time.Second
	}
	cfg.WriteBehind.applyDefaults()

	logger := log.With().Str("component", "cache-manager").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if cfg.L2 == nil {
		for _, dt := range cfg.Registry.Configs() {
			if dt.Level >= LevelL2 {
				logger.Warn().Str("data_type", dt.Name).Msg("No L2 store configured, lower tiers disabled")
				break
			}
		}
	}

	m := &Manager{
		registry: cfg.Registry,
		l1:       newMemoryStore(cfg.L1MaxEntries, cfg.Now),
		l2:       cfg.L2,
		l3:       cfg.Edge,
		queue:    newWriteBehindQueue(cfg.WriteBehind),
		config:   cfg,
		now:      cfg.Now,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	m.stats.reset(cfg.Now())
	return m, nil
}

// Registry returns the data-type registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start launches the L1 sweep and the write-behind flush loops.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(2)
		go m.sweepLoop()
		go m.flushLoop()
		m.logger.Info().
			Int("l1_max_entries", m.config.L1MaxEntries).
			Dur("sweep_interval", m.config.SweepInterval).
			Dur("flush_interval", m.config.WriteBehind.FlushInterval).
			Msg("Cache manager started")
	})
}

// Get reads key of dataType. L1 is always probed first; lower tiers are
// probed according to the data type's level and promote hits upwards.
func (m *Manager) Get(ctx context.Context, key, dataType string) (any, bool, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	fullKey := cfg.Key(key)

	if entry, found, _ := m.l1.get(fullKey); found {
		m.stats.hit(LevelL1, time.Since(start))
		m.logger.Debug().Str("key", fullKey).Str("level", "l1").Msg("Cache hit")
		return entry.Value, true, nil
	}

	if cfg.Level >= LevelL2 && m.l2 != nil {
		if value, ok := m.probe(ctx, m.l2, cfg, fullKey); ok {
			m.promote(cfg, fullKey, value)
			m.stats.hit(LevelL2, time.Since(start))
			m.logger.Debug().Str("key", fullKey).Str("level", "l2").Msg("Cache hit")
			return value, true, nil
		}
	}

	if cfg.Level == LevelL3 {
		data, err := m.l3.Get(ctx, fullKey)
		switch {
		case err == nil:
			value, decErr := decode(cfg, data)
			if decErr != nil {
				m.stats.failed("get")
				m.logger.Warn().Err(decErr).Str("key", fullKey).Msg("Malformed L3 payload, treating as miss")
				break
			}
			if m.l2 != nil {
				if err := m.l2.Set(ctx, fullKey, data, cfg.TTL); err != nil {
					m.stats.failed("set")
					m.logger.Warn().Err(err).Str("key", fullKey).Msg("L2 backfill failed")
				}
			}
			m.promote(cfg, fullKey, value)
			m.stats.hit(LevelL3, time.Since(start))
			m.logger.Debug().Str("key", fullKey).Str("level", "l3").Msg("Cache hit")
			return value, true, nil
		case !errors.Is(err, ErrCacheMiss):
			m.stats.failed("get")
			m.logger.Warn().Err(err).Str("key", fullKey).Str("store", m.l3.Name()).Msg("L3 get failed")
		}
	}

	m.stats.miss(time.Since(start))
	m.logger.Debug().Str("key", fullKey).Msg("Cache miss")
	return nil, false, nil
}

// probe reads and decodes fullKey from store, absorbing errors.
func (m *Manager) probe(ctx context.Context, store Store, cfg Config, fullKey string) (any, bool) {
	data, err := store.Get(ctx, fullKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.stats.failed("get")
			m.logger.Warn().Err(err).Str("key", fullKey).Str("store", store.Name()).Msg("Store get failed, degrading to miss")
		}
		return nil, false
	}
	value, err := decode(cfg, data)
	if err != nil {
		m.stats.failed("get")
		m.logger.Warn().Err(err).Str("key", fullKey).Msg("Malformed stored payload, treating as miss")
		return nil, false
	}
	return value, true
}

func (m *Manager) promote(cfg Config, fullKey string, value any) {
	m.stats.evicted(m.l1.set(fullKey, value, cfg.TTL))
	L1Entries.Set(float64(m.l1.len()))
}

// Set writes value for key of dataType. ttl <= 0 uses the data type's TTL.
// Write-behind types return true once L1 is written; the lower tiers are
// updated by the flush loop.
func (m *Manager) Set(ctx context.Context, key string, value any, dataType string, ttl time.Duration) (bool, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = cfg.TTL
	}
	fullKey := cfg.Key(key)

	var data []byte
	if cfg.Level >= LevelL2 {
		data, err = encode(cfg, value)
		if err != nil {
			m.stats.failed("set")
			m.logger.Warn().Err(err).Str("key", fullKey).Msg("Cache set rejected")
			return false, nil
		}
	}

	m.stats.evicted(m.l1.set(fullKey, value, ttl))
	L1Entries.Set(float64(m.l1.len()))
	m.stats.sets.Add(1)

	if cfg.Level == LevelL1 || (m.l2 == nil && cfg.Level == LevelL2) {
		return true, nil
	}

	if cfg.Strategy == StrategyWriteBehind {
		m.enqueue(pendingWrite{
			Key:        fullKey,
			DataType:   cfg.Name,
			Value:      data,
			TTL:        ttl,
			Level:      cfg.Level,
			EnqueuedAt: m.now(),
		})
		return true, nil
	}

	// cache-aside and write-through: synchronous write to every configured level
	if m.l2 != nil {
		if err := m.l2.Set(ctx, fullKey, data, ttl); err != nil {
			m.stats.failed("set")
			m.logger.Warn().Err(err).Str("key", fullKey).Msg("L2 set failed")
			return false, nil
		}
	}
	if cfg.Level == LevelL3 {
		if err := m.l3.Set(ctx, fullKey, data, ttl); err != nil {
			m.stats.failed("set")
			m.logger.Warn().Err(err).Str("key", fullKey).Str("store", m.l3.Name()).Msg("L3 set failed")
			return false, nil
		}
	}

	m.logger.Debug().Str("key", fullKey).Dur("ttl", ttl).Str("strategy", string(cfg.Strategy)).Msg("Cache set")
	return true, nil
}

func (m *Manager) enqueue(item pendingWrite) {
	if dropped := m.queue.enqueue(item, m.now()); dropped != nil {
		m.stats.deadLetters.Add(1)
		m.logger.Error().
			Str("key", dropped.Key).
			Str("data_type", dropped.DataType).
			Msg("Write-behind queue full, oldest item dead-lettered")
	}
}

// GetMany reads several keys of one data type. L2 misses of L1 are fetched in
// one round trip. The result only contains found keys.
func (m *Manager) GetMany(ctx context.Context, keys []string, dataType string) (map[string]any, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out := make(map[string]any, len(keys))
	var remaining []string

	for _, key := range keys {
		if entry, found, _ := m.l1.get(cfg.Key(key)); found {
			out[key] = entry.Value
			m.stats.hit(LevelL1, time.Since(start))
			continue
		}
		remaining = append(remaining, key)
	}

	if len(remaining) > 0 && cfg.Level >= LevelL2 && m.l2 != nil {
		fullKeys := make([]string, len(remaining))
		for i, key := range remaining {
			fullKeys[i] = cfg.Key(key)
		}

		found, err := m.l2.MGet(ctx, fullKeys)
		if err != nil {
			m.stats.failed("get")
			m.logger.Warn().Err(err).Int("keys", len(fullKeys)).Msg("L2 batch get failed, degrading to misses")
		}

		var missed []string
		for i, key := range remaining {
			data, ok := found[fullKeys[i]]
			if !ok {
				missed = append(missed, key)
				continue
			}
			value, decErr := decode(cfg, data)
			if decErr != nil {
				m.stats.failed("get")
				missed = append(missed, key)
				continue
			}
			m.promote(cfg, fullKeys[i], value)
			out[key] = value
			m.stats.hit(LevelL2, time.Since(start))
		}
		remaining = missed
	}

	for _, key := range remaining {
		if cfg.Level == LevelL3 {
			// per-key path covers the edge tier and records its own hit/miss
			if value, ok, _ := m.Get(ctx, key, dataType); ok {
				out[key] = value
			}
			continue
		}
		m.stats.miss(time.Since(start))
	}
	return out, nil
}

// SetMany writes several values of one data type, using a single
// multi-write per remote tier. It returns how many values were accepted.
func (m *Manager) SetMany(ctx context.Context, values map[string]any, dataType string, ttl time.Duration) (int, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = cfg.TTL
	}

	items := make([]Item, 0, len(values))
	for key, value := range values {
		fullKey := cfg.Key(key)
		var data []byte
		if cfg.Level >= LevelL2 {
			data, err = encode(cfg, value)
			if err != nil {
				m.stats.failed("set")
				m.logger.Warn().Err(err).Str("key", fullKey).Msg("Cache set rejected")
				continue
			}
		}
		m.stats.evicted(m.l1.set(fullKey, value, ttl))
		m.stats.sets.Add(1)
		items = append(items, Item{Key: fullKey, Value: data, TTL: ttl})
	}
	L1Entries.Set(float64(m.l1.len()))

	if cfg.Level == LevelL1 || (m.l2 == nil && cfg.Level == LevelL2) || len(items) == 0 {
		return len(items), nil
	}

	if cfg.Strategy == StrategyWriteBehind {
		now := m.now()
		for _, item := range items {
			m.enqueue(pendingWrite{
				Key: item.Key, DataType: cfg.Name, Value: item.Value,
				TTL: item.TTL, Level: cfg.Level, EnqueuedAt: now,
			})
		}
		return len(items), nil
	}

	if m.l2 != nil {
		if err := m.l2.MSet(ctx, items); err != nil {
			m.stats.failed("set")
			m.logger.Warn().Err(err).Int("keys", len(items)).Msg("L2 batch set failed")
			return 0, nil
		}
	}
	if cfg.Level == LevelL3 {
		if err := m.l3.MSet(ctx, items); err != nil {
			m.stats.failed("set")
			m.logger.Warn().Err(err).Int("keys", len(items)).Msg("L3 batch set failed")
			return 0, nil
		}
	}
	return len(items), nil
}

// Invalidate removes key of dataType from every tier and from the
// write-behind queue. It returns true if the key existed anywhere. Store
// errors are counted and logged; the remaining tiers are still cleared.
func (m *Manager) Invalidate(ctx context.Context, key, dataType string) (bool, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return false, err
	}
	deleted, _ := m.DeleteKey(ctx, cfg.Key(key))
	return deleted, nil
}

// DeleteKey removes a full cache key from every tier. It returns whether the
// key existed in any tier that answered, together with the first store error
// so callers that audit deletions can record it.
func (m *Manager) DeleteKey(ctx context.Context, fullKey string) (bool, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	deleted := m.l1.delete(fullKey)
	m.queue.discard(func(k string) bool { return k == fullKey })

	var firstErr error
	for _, store := range m.remoteStores() {
		n, err := store.Delete(ctx, fullKey)
		if err != nil {
			m.stats.failed("delete")
			m.logger.Warn().Err(err).Str("key", fullKey).Str("store", store.Name()).Msg("Store delete failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted = deleted || n > 0
	}

	if deleted {
		m.stats.deletes.Add(1)
	}
	L1Entries.Set(float64(m.l1.len()))
	return deleted, firstErr
}

// InvalidatePattern removes every key matching a wildcard pattern and returns
// how many keys were removed.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) int {
	keys, _ := m.DeletePattern(ctx, pattern)
	return len(keys)
}

// DeletePattern removes every key matching pattern from all tiers using the
// stores' native pattern scans and returns the removed keys.
func (m *Manager) DeletePattern(ctx context.Context, pattern string) ([]string, error) {
	re, err := PatternToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	seen := make(map[string]struct{})
	for _, key := range m.l1.keys(re.MatchString) {
		if m.l1.delete(key) {
			seen[key] = struct{}{}
		}
	}
	m.queue.discard(re.MatchString)

	var firstErr error
	for _, store := range m.remoteStores() {
		keys, err := store.DeletePattern(ctx, pattern)
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		if err != nil {
			m.stats.failed("delete")
			m.logger.Warn().Err(err).Str("pattern", pattern).Str("store", store.Name()).Msg("Pattern delete failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", store.Name(), err)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	m.stats.deletes.Add(int64(len(out)))
	L1Entries.Set(float64(m.l1.len()))

	m.logger.Debug().Str("pattern", pattern).Int("keys", len(out)).Msg("Pattern invalidated")
	return out, firstErr
}

// Keys lists live full keys matching pattern across L1 and the remote tiers.
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := PatternToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, key := range m.l1.keys(re.MatchString) {
		seen[key] = struct{}{}
	}
	for _, store := range m.remoteStores() {
		keys, err := store.Keys(ctx, pattern)
		if err != nil {
			m.stats.failed("scan")
			return nil, fmt.Errorf("%s: %w", store.Name(), err)
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	return out, nil
}

// Exists reports whether key of dataType is present in any applicable tier.
func (m *Manager) Exists(ctx context.Context, key, dataType string) (bool, error) {
	cfg, err := m.registry.Lookup(dataType)
	if err != nil {
		return false, err
	}
	fullKey := cfg.Key(key)

	if m.l1.peek(fullKey) {
		return true, nil
	}

	stores := make([]Store, 0, 2)
	if cfg.Level >= LevelL2 && m.l2 != nil {
		stores = append(stores, m.l2)
	}
	if cfg.Level == LevelL3 {
		stores = append(stores, m.l3)
	}
	for _, store := range stores {
		ok, err := store.Exists(ctx, fullKey)
		if err != nil {
			m.stats.failed("exists")
			m.logger.Warn().Err(err).Str("key", fullKey).Str("store", store.Name()).Msg("Store exists failed")
			return false, nil
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// GetStats returns a snapshot of the counters.
func (m *Manager) GetStats() Stats {
	s := m.stats.snapshot()
	s.L1Size = m.l1.len()
	s.L1Capacity = m.config.L1MaxEntries
	s.WriteBehindQueue = m.queue.len()
	return s
}

// ResetStats zeroes every counter.
func (m *Manager) ResetStats() {
	m.stats.reset(m.now())
	m.logger.Info().Msg("Cache statistics reset")
}

// DeadLetters returns the write-behind items that were given up on.
func (m *Manager) DeadLetters() []DeadLetter {
	return m.queue.deadLetters()
}

// FlushWriteBehind writes one batch of queued items, ignoring the retry backoff.
func (m *Manager) FlushWriteBehind(ctx context.Context) error {
	return m.flush(ctx, true)
}

// flush holds flushMu from take until the batch is acknowledged or requeued,
// so a concurrent delete either discards the item while queued or removes it
// from the stores after it was written.
func (m *Manager) flush(ctx context.Context, force bool) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	now := m.now()
	if !force && !m.queue.ready(now) {
		return nil
	}

	batch := m.queue.take(m.config.WriteBehind.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	items := make([]Item, len(batch))
	var edgeItems []Item
	for i, pw := range batch {
		items[i] = Item{Key: pw.Key, Value: pw.Value, TTL: pw.TTL}
		if pw.Level == LevelL3 {
			edgeItems = append(edgeItems, items[i])
		}
	}

	if m.l2 != nil {
		if err := m.l2.MSet(ctx, items); err != nil {
			m.stats.failed("flush")
			WriteBehindFlushes.WithLabelValues("failure").Inc()
			dead := m.queue.failed(batch, now, err.Error())
			if len(dead) > 0 {
				m.stats.deadLetters.Add(int64(len(dead)))
				m.logger.Error().Err(err).Int("dead_lettered", len(dead)).Msg("Write-behind items exceeded max attempts")
			}
			m.logger.Warn().Err(err).Int("batch", len(batch)).Int("queued", m.queue.len()).Msg("Write-behind flush failed, batch requeued")
			return fmt.Errorf("write-behind flush: %w", err)
		}
	}

	if len(edgeItems) > 0 {
		if err := m.l3.MSet(ctx, edgeItems); err != nil {
			m.stats.failed("flush")
			m.logger.Warn().Err(err).Int("batch", len(edgeItems)).Str("store", m.l3.Name()).Msg("Write-behind edge flush failed")
		}
	}

	m.queue.succeeded()
	WriteBehindFlushes.WithLabelValues("success").Inc()
	m.logger.Debug().Int("batch", len(batch)).Msg("Write-behind batch flushed")
	return nil
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.WriteBehind.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = m.flush(context.Background(), false)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.l1.sweep(); removed > 0 {
				m.logger.Debug().Int("removed", removed).Msg("Expired L1 entries swept")
			}
			L1Entries.Set(float64(m.l1.len()))
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the background loops, drains the write-behind queue within
// ShutdownDrainTimeout (or ctx, whichever ends first) and clears L1.
func (m *Manager) Close(ctx context.Context) error {
	var drainErr error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		drainCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownDrainTimeout)
		defer cancel()
		drainErr = m.drain(drainCtx)

		m.l1.clear()
		L1Entries.Set(0)
		m.logger.Info().Int("undrained", m.queue.len()).Msg("Cache manager closed")
	})
	return drainErr
}

func (m *Manager) drain(ctx context.Context) error {
	for m.queue.len() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("write-behind drain: %w", err)
		}
		if err := m.flush(ctx, true); err != nil {
			select {
			case <-ctx.Done():
				return fmt.Errorf("write-behind drain: %w", ctx.Err())
			case <-time.After(m.config.WriteBehind.FlushInterval):
			}
		}
	}
	return nil
}

func (m *Manager) remoteStores() []Store {
	stores := make([]Store, 0, 2)
	if m.l2 != nil {
		stores = append(stores, m.l2)
	}
	if _, nop := m.l3.(NopStore); !nop {
		stores = append(stores, m.l3)
	}
	return stores
}
