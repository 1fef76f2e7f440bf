// Package warming populates the cache from sources of truth ahead of reads.
//
// A Warmer resolves the Loader registered for a data type, loads the value and
// writes it through the cache manager with the data type's strategy.
// Concurrent warms of the same key share one load, and the number of loads in
// flight is bounded.
package warming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// Cache is the subset of the cache manager used by the warmer.
type Cache interface {
	Registry() *cache.Registry
	Set(ctx context.Context, key string, value any, dataType string, ttl time.Duration) (bool, error)
}

// Config holds the Warmer configuration.
type Config struct {
	// Loaders maps data type names to their loader.
	Loaders map[string]Loader

	// Concurrency bounds the number of loads in flight.
	Concurrency int

	// Timeout bounds a single load.
	Timeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default warmer configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		Timeout:     15 * time.Second,
	}
}

// Request names one key to warm.
type Request struct {
	Key      string `json:"key"`
	DataType string `json:"configType"`
}

// Result is the outcome of warming one key.
type Result struct {
	Key        string  `json:"key"`
	DataType   string  `json:"configType"`
	Warmed     bool    `json:"warmed"`
	Shared     bool    `json:"shared"`
	DurationMs float64 `json:"durationMs"`
	Error      string  `json:"error,omitempty"`
}

// Stats are the warmer counters.
type Stats struct {
	Warmed  int64    `json:"warmed"`
	Failed  int64    `json:"failed"`
	Shared  int64    `json:"shared"`
	Loaders []string `json:"loaders"`
}

// Warmer loads values into the cache on demand.
type Warmer struct {
	cache   Cache
	cfg     Config
	logger  zerolog.Logger
	flights singleflight.Group
	slots   *semaphore.Weighted

	mu      sync.RWMutex
	loaders map[string]Loader

	warmed, failed, shared atomic.Int64
}

// New creates a warmer over c.
func New(c Cache, cfg Config) (*Warmer, error) {
	if c == nil {
		return nil, fmt.Errorf("warmer: cache is required")
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	logger := log.With().Str("component", "warmer").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	w := &Warmer{
		cache:   c,
		cfg:     cfg,
		logger:  logger,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		loaders: make(map[string]Loader, len(cfg.Loaders)),
	}
	for dataType, l := range cfg.Loaders {
		if err := w.RegisterLoader(dataType, l); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// RegisterLoader sets the loader of a registered data type.
func (w *Warmer) RegisterLoader(dataType string, l Loader) error {
	if _, err := w.cache.Registry().Lookup(dataType); err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("loader for %s is nil", dataType)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaders[dataType] = l
	return nil
}

// HasLoader reports whether dataType has a loader.
func (w *Warmer) HasLoader(dataType string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.loaders[dataType]
	return ok
}

// Warm loads key of dataType and writes it into the cache. Unknown data types
// return cache.ErrUnknownDataType, data types without a loader ErrNoLoader.
func (w *Warmer) Warm(ctx context.Context, key, dataType string) (Result, error) {
	res := Result{Key: key, DataType: dataType}
	if _, err := w.cache.Registry().Lookup(dataType); err != nil {
		return res, err
	}
	w.mu.RLock()
	loader, ok := w.loaders[dataType]
	w.mu.RUnlock()
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrNoLoader, dataType)
	}

	start := time.Now()
	_, err, shared := w.flights.Do(dataType+"|"+key, func() (any, error) {
		return nil, w.load(ctx, loader, key, dataType)
	})
	res.Shared = shared
	res.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	WarmDuration.WithLabelValues(dataType).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		w.failed.Add(1)
		WarmTotal.WithLabelValues("error").Inc()
		res.Error = err.Error()
		return res, err
	case shared:
		w.shared.Add(1)
		WarmTotal.WithLabelValues("shared").Inc()
	default:
		WarmTotal.WithLabelValues("ok").Inc()
	}
	w.warmed.Add(1)
	res.Warmed = true
	return res, nil
}

func (w *Warmer) load(ctx context.Context, loader Loader, key, dataType string) error {
	if err := w.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire load slot: %w", err)
	}
	defer w.slots.Release(1)

	loadCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	loaded, err := loader.Load(loadCtx, key)
	if err != nil {
		w.logger.Warn().Err(err).Str("key", key).Str("data_type", dataType).Msg("Warm load failed")
		return fmt.Errorf("load %s %q: %w", dataType, key, err)
	}

	ok, err := w.cache.Set(ctx, key, loaded.Value, dataType, loaded.TTL)
	if err != nil {
		return fmt.Errorf("populate %s %q: %w", dataType, key, err)
	}
	if !ok {
		return fmt.Errorf("populate %s %q: cache rejected the value", dataType, key)
	}

	w.logger.Debug().Str("key", key).Str("data_type", dataType).Dur("ttl", loaded.TTL).Msg("Key warmed")
	return nil
}

// WarmBatch warms every request concurrently and returns one result per
// request in input order. Individual failures are reported in the results.
func (w *Warmer) WarmBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, r := range reqs {
		g.Go(func() error {
			res, err := w.Warm(gctx, r.Key, r.DataType)
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	w.logger.Info().Int("requested", len(reqs)).Int("failed", failed).Msg("Batch warm complete")
	return results
}

// Stats returns the warmer counters.
func (w *Warmer) Stats() Stats {
	w.mu.RLock()
	names := make([]string, 0, len(w.loaders))
	for name := range w.loaders {
		names = append(names, name)
	}
	w.mu.RUnlock()
	sort.Strings(names)

	return Stats{
		Warmed:  w.warmed.Load(),
		Failed:  w.failed.Load(),
		Shared:  w.shared.Load(),
		Loaders: names,
	}
}
