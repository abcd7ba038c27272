package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
)

// limiterDatabase keeps rate-limit counters away from queue and pub/sub keys.
const limiterDatabase = 1

// NewClient connects to the cache server. A failed ping is an error so
// startup fails fast.
func NewClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, apperror.Upstream("cache unavailable", err)
	}
	log.Infof("[Cache] Connected to %s: %s", client.Options().Addr, pong)
	return client, nil
}

// NewLimiterStorage returns fiber storage for the rate limiter on the same
// server as the cache client.
func NewLimiterStorage(cfg config.CacheConfig) (*redisstorage.Storage, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return nil, apperror.Configuration(fmt.Sprintf("invalid CACHE_PORT %q", cfg.Port))
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	}), nil
}
