//go:build integration

package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestLimiter_Integration_ConcurrentBudget(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	limiter, err := NewLimiter(redisClient, Config{Limit: 50, Window: time.Minute, Logger: &logger})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := limiter.Allow(ctx, "10.0.0.1")
			if err != nil {
				t.Errorf("Allow() error = %v", err)
				return
			}
			if state.Allowed() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed requests = %d, want 50", allowed)
	}
}

func TestLimiter_Integration_WindowExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	limiter, err := NewLimiter(redisClient, Config{Limit: 1, Window: 2 * time.Second, Logger: &logger})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	ctx := context.Background()

	state, err := limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	key, _ := limiter.window("client", time.Now())

	ttl, err := redisClient.PTTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("PTTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Errorf("counter TTL = %v, want within (0, 2s]", ttl)
	}

	time.Sleep(state.ResetAt.Sub(time.Now()) + 50*time.Millisecond)

	state, err = limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow() after window error = %v", err)
	}
	if !state.Allowed() || state.Count != 1 {
		t.Errorf("Allow() after window = %+v, want fresh budget", state)
	}
}
