package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in a store
	ErrCacheMiss = errors.New("cache miss")

	// ErrSerialization indicates a value could not be encoded or decoded
	ErrSerialization = errors.New("cache serialization error")
)

// Item is one key/value pair of a multi-write.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Store is a remote cache tier (L2 or L3). Keys are full cache keys.
type Store interface {
	// Name identifies the store in logs and health checks.
	Name() string

	// Get returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// MGet returns values for the keys that exist; absent keys are omitted.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// MSet writes all items atomically: either all succeed or the call fails.
	MSet(ctx context.Context, items []Item) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Keys lists keys matching a wildcard pattern, up to the store's scan cap.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// DeletePattern removes all keys matching a wildcard pattern and returns them.
	DeletePattern(ctx context.Context, pattern string) ([]string, error)

	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error

	Close() error
}

// NopStore is the default edge (L3) tier. It accepts writes and always misses.
// Plug a real CDN/edge client in through ManagerConfig.Edge.
type NopStore struct{}

// Name returns "edge-nop".
func (NopStore) Name() string { return "edge-nop" }

// Get always misses.
func (NopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

// MGet always returns an empty result.
func (NopStore) MGet(context.Context, []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

// Set discards the value.
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

// MSet discards the items.
func (NopStore) MSet(context.Context, []Item) error { return nil }

// Delete reports nothing deleted.
func (NopStore) Delete(context.Context, ...string) (int64, error) { return 0, nil }

// Keys returns no keys.
func (NopStore) Keys(context.Context, string) ([]string, error) { return nil, nil }

// DeletePattern returns no keys.
func (NopStore) DeletePattern(context.Context, string) ([]string, error) { return nil, nil }

// Exists always reports false.
func (NopStore) Exists(context.Context, string) (bool, error) { return false, nil }

// Ping always succeeds.
func (NopStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (NopStore) Close() error { return nil }
