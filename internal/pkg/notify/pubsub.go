package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/brandbridge/brandbridge/app/models"
)

const channelPrefix = "notifications:"

// Channel is the Redis pub/sub channel carrying userID's notifications.
func Channel(userID string) string {
	return channelPrefix + userID
}

// RedisPublisher fans notifications out over Redis pub/sub so every API
// instance can feed its own stream subscribers.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.client.Publish(ctx, Channel(n.UserID), payload).Err()
}

// Subscribe returns a subscription on userID's channel. Callers must Close it.
func (p *RedisPublisher) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return p.client.Subscribe(ctx, Channel(userID))
}
