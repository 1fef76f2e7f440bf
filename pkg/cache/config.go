package cache

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownDataType indicates a data type that is not present in the registry.
// This is a configuration error and is never degraded to a miss.
var ErrUnknownDataType = errors.New("unknown data type")

// Level identifies a cache tier.
type Level int

const (
	// LevelL1 is the in-process memory tier.
	LevelL1 Level = 1

	// LevelL2 is the shared Redis tier.
	LevelL2 Level = 2

	// LevelL3 is the edge tier (pluggable, no-op by default).
	LevelL3 Level = 3
)

// String returns the lowercase tier name ("l1", "l2", "l3").
func (l Level) String() string {
	switch l {
	case LevelL1:
		return "l1"
	case LevelL2:
		return "l2"
	case LevelL3:
		return "l3"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText encodes the level as "L1", "L2" or "L3".
func (l Level) MarshalText() ([]byte, error) {
	switch l {
	case LevelL1, LevelL2, LevelL3:
		return []byte(fmt.Sprintf("L%d", int(l))), nil
	}
	return nil, fmt.Errorf("invalid level %d", int(l))
}

// Strategy is the write propagation strategy of a data type.
type Strategy string

const (
	// StrategyCacheAside writes synchronously to every configured level.
	// It currently behaves exactly like StrategyWriteThrough.
	StrategyCacheAside Strategy = "cache-aside"

	// StrategyWriteThrough writes synchronously to every configured level.
	StrategyWriteThrough Strategy = "write-through"

	// StrategyWriteBehind writes L1 synchronously and queues the lower levels.
	StrategyWriteBehind Strategy = "write-behind"
)

// InvalidationMeta describes how entries of a data type are invalidated.
type InvalidationMeta struct {
	// Pattern is a wildcard pattern over full keys, e.g. "market:*".
	Pattern string `json:"pattern,omitempty"`

	// Dependencies lists data type names this type depends on.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Config describes one logical data type.
type Config struct {
	Name         string            `json:"name"`
	TTL          time.Duration     `json:"-"`
	KeyPrefix    string            `json:"keyPrefix"`
	Serialize    bool              `json:"serialize"`
	Level        Level             `json:"level"`
	Strategy     Strategy          `json:"strategy"`
	Invalidation *InvalidationMeta `json:"invalidation,omitempty"`
}

// TTLSeconds returns the TTL in whole seconds.
func (c Config) TTLSeconds() int {
	return int(c.TTL / time.Second)
}

// Key builds the full cache key for id.
func (c Config) Key(id string) string {
	return c.KeyPrefix + id
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("data type name is required")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("%s: key prefix is required", c.Name)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%s: ttl must be positive", c.Name)
	}
	if c.Level < LevelL1 || c.Level > LevelL3 {
		return fmt.Errorf("%s: invalid level %d", c.Name, int(c.Level))
	}
	switch c.Strategy {
	case StrategyCacheAside, StrategyWriteThrough, StrategyWriteBehind:
	default:
		return fmt.Errorf("%s: invalid strategy %q", c.Name, c.Strategy)
	}
	return nil
}

// Registry is the fixed set of data types known to a Manager.
// It is built once at startup and never mutated afterwards.
type Registry struct {
	types map[string]Config
}

// NewRegistry validates the given configs and builds a registry.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{types: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.types[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate data type %q", cfg.Name)
		}
		r.types[cfg.Name] = cfg
	}
	return r, nil
}

// Lookup returns the config for name or ErrUnknownDataType.
func (r *Registry) Lookup(name string) (Config, error) {
	cfg, ok := r.types[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownDataType, name)
	}
	return cfg, nil
}

// Names returns all registered data type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configs returns all registered configs sorted by name.
func (r *Registry) Configs() []Config {
	names := r.Names()
	out := make([]Config, 0, len(names))
	for _, name := range names {
		out = append(out, r.types[name])
	}
	return out
}

// Data type names of the default registry.
const (
	TypeMarketData     = "market_data"
	TypeOrderBook      = "order_book"
	TypeTradingSession = "trading_session"
	TypePortfolio      = "portfolio"
	TypeDerivedMetrics = "derived_metrics"
	TypeUserProfile    = "user_profile"
	TypeAPIResponse    = "api_response"
)

// DefaultConfigs returns the data types used by the trading service.
func DefaultConfigs() []Config {
	return []Config{
		{
			Name: TypeMarketData, TTL: time.Second, KeyPrefix: "market:", Serialize: true,
			Level: LevelL2, Strategy: StrategyWriteThrough,
			Invalidation: &InvalidationMeta{Pattern: "market:*"},
		},
		{
			Name: TypeOrderBook, TTL: 2 * time.Second, KeyPrefix: "orderbook:", Serialize: true,
			Level: LevelL2, Strategy: StrategyWriteThrough,
			Invalidation: &InvalidationMeta{Pattern: "orderbook:*", Dependencies: []string{TypeMarketData}},
		},
		{
			Name: TypeTradingSession, TTL: time.Minute, KeyPrefix: "session:", Serialize: true,
			Level: LevelL2, Strategy: StrategyCacheAside,
			Invalidation: &InvalidationMeta{Pattern: "session:*"},
		},
		{
			Name: TypePortfolio, TTL: 30 * time.Second, KeyPrefix: "portfolio:", Serialize: true,
			Level: LevelL2, Strategy: StrategyWriteBehind,
			Invalidation: &InvalidationMeta{Pattern: "portfolio:*", Dependencies: []string{TypeTradingSession}},
		},
		{
			Name: TypeDerivedMetrics, TTL: 5 * time.Minute, KeyPrefix: "metrics:", Serialize: true,
			Level: LevelL3, Strategy: StrategyWriteBehind,
			Invalidation: &InvalidationMeta{Pattern: "metrics:*"},
		},
		{
			Name: TypeUserProfile, TTL: 10 * time.Minute, KeyPrefix: "user:", Serialize: true,
			Level: LevelL2, Strategy: StrategyCacheAside,
			Invalidation: &InvalidationMeta{Pattern: "user:*"},
		},
		{
			Name: TypeAPIResponse, TTL: time.Minute, KeyPrefix: "api:", Serialize: false,
			Level: LevelL1, Strategy: StrategyCacheAside,
		},
	}
}

// DefaultRegistry returns the registry built from DefaultConfigs.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultConfigs()...)
	if err != nil {
		panic(fmt.Sprintf("default registry: %v", err))
	}
	return r
}
