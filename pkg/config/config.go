// Package config loads the trading cache service configuration from an
// optional YAML file and TRADECACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TRADECACHE_REDIS_ADDRESS.
const EnvPrefix = "TRADECACHE"

// Config holds all configuration of the service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Invalidation InvalidationConfig `mapstructure:"invalidation"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Trading      TradingConfig      `mapstructure:"trading"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Warming      WarmingConfig      `mapstructure:"warming"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Options returns the go-redis client options.
func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         r.Address,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// CacheConfig holds the tiered cache settings. The data-type registry itself
// is fixed in code.
type CacheConfig struct {
	L1MaxEntries           int           `mapstructure:"l1_max_entries"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	FlushInterval          time.Duration `mapstructure:"flush_interval"`
	FlushBatchSize         int           `mapstructure:"flush_batch_size"`
	WriteBehindMaxDepth    int           `mapstructure:"write_behind_max_depth"`
	WriteBehindMaxAttempts int           `mapstructure:"write_behind_max_attempts"`
	WriteBehindMaxBackoff  time.Duration `mapstructure:"write_behind_max_backoff"`
	DeadLetterCapacity     int           `mapstructure:"dead_letter_capacity"`
	ScanCount              int64         `mapstructure:"scan_count"`
	MaxScanKeys            int           `mapstructure:"max_scan_keys"`
	ShutdownDrainTimeout   time.Duration `mapstructure:"shutdown_drain_timeout"`
}

// InvalidationConfig holds invalidation engine settings.
type InvalidationConfig struct {
	LazyInterval  time.Duration `mapstructure:"lazy_interval"`
	LazyBatchSize int           `mapstructure:"lazy_batch_size"`
	EventCapacity int           `mapstructure:"event_capacity"`
}

// MonitoringConfig holds sampler settings.
type MonitoringConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	HistorySize    int           `mapstructure:"history_size"`
	AlertCapacity  int           `mapstructure:"alert_capacity"`
}

// TradingConfig holds the trading layer freshness and schedules.
type TradingConfig struct {
	QuoteTTL         time.Duration `mapstructure:"quote_ttl"`
	OrderBookTTL     time.Duration `mapstructure:"order_book_ttl"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	PortfolioTTL     time.Duration `mapstructure:"portfolio_ttl"`
	MetricsTTL       time.Duration `mapstructure:"metrics_ttl"`
	QuoteUpdates     string        `mapstructure:"quote_updates"`
	OrderBookUpdates string        `mapstructure:"order_book_updates"`
	PortfolioUpdates string        `mapstructure:"portfolio_updates"`
	MetricsUpdates   string        `mapstructure:"metrics_updates"`
	Symbols          []string      `mapstructure:"symbols"`
}

// RateLimitConfig holds the per-client request budget.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// WarmingConfig holds cache warming settings.
type WarmingConfig struct {
	// Upstreams maps data type names to the base URL of their source of truth.
	Upstreams   map[string]string `mapstructure:"upstreams"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Concurrency int               `mapstructure:"concurrency"`
	UserAgent   string            `mapstructure:"user_agent"`
}

// Load loads configuration from configPath (optional) and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// no config file is fine, defaults and env vars apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Cache defaults
	v.SetDefault("cache.l1_max_entries", 10000)
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.flush_interval", "1s")
	v.SetDefault("cache.flush_batch_size", 100)
	v.SetDefault("cache.write_behind_max_depth", 100000)
	v.SetDefault("cache.write_behind_max_attempts", 10)
	v.SetDefault("cache.write_behind_max_backoff", "30s")
	v.SetDefault("cache.dead_letter_capacity", 1000)
	v.SetDefault("cache.scan_count", 100)
	v.SetDefault("cache.max_scan_keys", 10000)
	v.SetDefault("cache.shutdown_drain_timeout", "10s")

	// Invalidation defaults
	v.SetDefault("invalidation.lazy_interval", "5s")
	v.SetDefault("invalidation.lazy_batch_size", 10)
	v.SetDefault("invalidation.event_capacity", 1000)

	// Monitoring defaults
	v.SetDefault("monitoring.sample_interval", "10s")
	v.SetDefault("monitoring.history_size", 360)
	v.SetDefault("monitoring.alert_capacity", 1000)

	// Trading defaults
	v.SetDefault("trading.quote_ttl", "1s")
	v.SetDefault("trading.order_book_ttl", "2s")
	v.SetDefault("trading.session_ttl", "60s")
	v.SetDefault("trading.portfolio_ttl", "30s")
	v.SetDefault("trading.metrics_ttl", "5m")
	v.SetDefault("trading.quote_updates", "@every 1s")
	v.SetDefault("trading.order_book_updates", "@every 2s")
	v.SetDefault("trading.portfolio_updates", "@every 30s")
	v.SetDefault("trading.metrics_updates", "@every 5m")
	v.SetDefault("trading.symbols", []string{})

	// Rate limit defaults
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.limit", 100)
	v.SetDefault("ratelimit.window", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	// Warming defaults
	v.SetDefault("warming.upstreams", map[string]string{})
	v.SetDefault("warming.timeout", "15s")
	v.SetDefault("warming.concurrency", 8)
	v.SetDefault("warming.user_agent", "tradecache/1.0")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Cache.L1MaxEntries <= 0 {
		return fmt.Errorf("cache l1_max_entries must be positive")
	}
	if c.Cache.FlushInterval <= 0 || c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache flush and sweep intervals must be positive")
	}
	if c.Cache.FlushBatchSize <= 0 {
		return fmt.Errorf("cache flush_batch_size must be positive")
	}

	if c.Monitoring.SampleInterval <= 0 {
		return fmt.Errorf("monitoring sample_interval must be positive")
	}
	if c.Monitoring.HistorySize <= 0 {
		return fmt.Errorf("monitoring history_size must be positive")
	}

	for name, spec := range map[string]string{
		"quote_updates":      c.Trading.QuoteUpdates,
		"order_book_updates": c.Trading.OrderBookUpdates,
		"portfolio_updates":  c.Trading.PortfolioUpdates,
		"metrics_updates":    c.Trading.MetricsUpdates,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid trading %s %q: %w", name, spec, err)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("ratelimit limit must be positive")
		}
		if c.RateLimit.Window < time.Millisecond {
			return fmt.Errorf("ratelimit window must be at least 1ms")
		}
	}

	validLogLevels := map[string]bool{
		"debug":    true,
		"info":     true,
		"warn":     true,
		"error":    true,
		"disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	for dataType, base := range c.Warming.Upstreams {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid warming upstream for %s: %q", dataType, base)
		}
	}
	if c.Warming.Concurrency <= 0 {
		return fmt.Errorf("warming concurrency must be positive")
	}

	return nil
}
