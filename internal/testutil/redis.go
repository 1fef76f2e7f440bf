package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// NewRedis starts an in-memory Redis and returns it with a connected client.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// NewManager creates a cache manager on miniredis using clock for L1.
// The manager is closed on cleanup.
func NewManager(t *testing.T, clock *Clock) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, client := NewRedis(t)

	cfg := cache.DefaultManagerConfig(cache.NewRedisStore(client))
	if clock != nil {
		cfg.Now = clock.Now
	}
	cfg.ShutdownDrainTimeout = 100 * time.Millisecond
	cfg.WriteBehind.FlushInterval = 10 * time.Millisecond

	m, err := cache.NewManager(cfg)
	if err != nil {
		t.Fatalf("cache.NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, mr
}
