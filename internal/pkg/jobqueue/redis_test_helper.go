package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brandbridge/brandbridge/internal/pkg/cache"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/env"
)

// testRedisDB is a scratch database that is flushed around every test.
const testRedisDB = 14

// newTestRedis connects to the CACHE_* server and skips the test when it
// is not reachable.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := cache.NewClient(ctx, config.CacheConfig{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       testRedisDB,
	})
	if err != nil {
		t.Skipf("Skipping Redis-dependent test: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush redis db %d: %v", testRedisDB, err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// newTestQueue returns a queue on a fresh database whose clock is under
// the test's control.
func newTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	q := NewQueue(newTestRedis(t), 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}
