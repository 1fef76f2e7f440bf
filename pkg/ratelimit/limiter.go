package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for request budgets.
var (
	rateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecache_rate_limit_rejections_total",
		Help: "Total number of requests rejected because the client budget was used up",
	})

	rateLimitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecache_rate_limit_errors_total",
		Help: "Total number of budget checks that failed and let the request through",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// Limit is the number of requests allowed per client per window.
	Limit int

	// Window is the length of a budget window.
	Window time.Duration

	// KeyPrefix prefixes the Redis counter keys.
	KeyPrefix string

	Now    func() time.Time
	Logger *zerolog.Logger
}

// DefaultConfig returns 100 requests per minute.
func DefaultConfig() Config {
	return Config{
		Limit:     100,
		Window:    time.Minute,
		KeyPrefix: DefaultKeyPrefix,
		Now:       time.Now,
	}
}

// Limiter counts requests per client in fixed windows stored in Redis.
type Limiter struct {
	redis  *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewLimiter creates a limiter.
func NewLimiter(redisClient *redis.Client, cfg Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive (got %d)", cfg.Limit)
	}
	if cfg.Window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms (got %s)", cfg.Window)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.With().Str("component", "ratelimit").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Limiter{redis: redisClient, cfg: cfg, logger: logger}, nil
}

// window returns the counter key and the end of the window containing now.
func (l *Limiter) window(client string, now time.Time) (string, time.Time) {
	size := l.cfg.Window.Milliseconds()
	idx := now.UnixMilli() / size
	return l.cfg.KeyPrefix + client + ":" + strconv.FormatInt(idx, 10), time.UnixMilli((idx + 1) * size)
}

// Allow counts one request of client and returns the resulting state.
// When Redis is unavailable the request is allowed and the error returned.
func (l *Limiter) Allow(ctx context.Context, client string) (State, error) {
	now := l.cfg.Now()
	key, resetAt := l.window(client, now)
	state := State{Client: client, Limit: l.cfg.Limit, ResetAt: resetAt}

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		rateLimitErrorsTotal.Inc()
		l.logger.Warn().Err(err).Str("client", client).Msg("Rate limit check failed, allowing request")
		return state, fmt.Errorf("count request: %w", err)
	}

	state.Count = int(incr.Val())
	if !state.Allowed() {
		rateLimitRejectionsTotal.Inc()
		l.logger.Warn().
			Str("client", client).
			Int("count", state.Count).
			Int("limit", state.Limit).
			Time("reset_at", resetAt).
			Msg("Rate limit exceeded - rejecting request")
	}
	return state, nil
}

// Peek returns the client's state without counting a request.
func (l *Limiter) Peek(ctx context.Context, client string) (State, error) {
	key, resetAt := l.window(client, l.cfg.Now())
	state := State{Client: client, Limit: l.cfg.Limit, ResetAt: resetAt}

	count, err := l.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get request count: %w", err)
	}
	state.Count = count
	return state, nil
}

// Reset clears the client's budget in the current window.
func (l *Limiter) Reset(ctx context.Context, client string) error {
	key, _ := l.window(client, l.cfg.Now())
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset request count: %w", err)
	}
	return nil
}
