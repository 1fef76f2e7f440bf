package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the L2 tier backed by Redis.
type RedisStore struct {
	redis *redis.Client

	// scanCount is the COUNT hint per SCAN round trip
	scanCount int64

	// maxScanKeys caps the number of keys a single pattern scan collects
	maxScanKeys int
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithScanLimits sets the SCAN COUNT hint and the per-scan key cap.
func WithScanLimits(count int64, maxKeys int) RedisStoreOption {
	return func(s *RedisStore) {
		if count > 0 {
			s.scanCount = count
		}
		if maxKeys > 0 {
			s.maxScanKeys = maxKeys
		}
	}
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, opts ...RedisStoreOption) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &RedisStore{
		redis:       redisClient,
		scanCount:   100,
		maxScanKeys: 10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "redis".
func (s *RedisStore) Name() string {
	return "redis"
}

// Get retrieves the raw value of key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// MGet retrieves several keys in one round trip.
func (s *RedisStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	for i, v := range values {
		switch val := v.(type) {
		case string:
			out[keys[i]] = []byte(val)
		case []byte:
			out[keys[i]] = val
		}
	}
	return out, nil
}

// Set stores value with a TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MSet writes every item inside a MULTI/EXEC transaction.
func (s *RedisStore) MSet(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	pipe := s.redis.TxPipeline()
	for _, item := range items {
		pipe.Set(ctx, item.Key, item.Value, item.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis multi-write: %w", err)
	}
	return nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Keys scans for keys matching pattern. SCAN is used instead of KEYS to avoid
// blocking Redis; collection stops at maxScanKeys.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	match := redisPattern(pattern)

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.redis.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if len(keys) >= s.maxScanKeys {
			keys = keys[:s.maxScanKeys]
			break
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// DeletePattern removes all keys matching pattern in chunks.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	const chunk = 500
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		if _, err := s.Delete(ctx, keys[start:end]...); err != nil {
			return keys[:start], err
		}
	}
	return keys, nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
