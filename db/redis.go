package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a generic byte cache backed by Redis. It carries no
// analytics-specific logic.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr, password string, database int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Printf("connected to Redis at %s", addr)

	return &RedisCache{client: client}, nil
}

// Get returns the cached value, or nil when the key is absent
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value with the given TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Del removes keys; missing keys are not an error
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// invalidationEvent is the payload published when a backfill or historical
// recompute finishes for a workspace
type invalidationEvent struct {
	WorkspaceID string `json:"workspaceId"`
}

// SubscribeInvalidations consumes workspace invalidation events from a Redis
// pub/sub channel and calls fn for each. Blocks until the context is
// cancelled; malformed payloads are logged and skipped.
func (c *RedisCache) SubscribeInvalidations(ctx context.Context, channel string, fn func(workspaceID string)) {
	sub := c.client.Subscribe(ctx, channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var event invalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || event.WorkspaceID == "" {
				log.Printf("ignoring malformed invalidation event: %q", msg.Payload)
				continue
			}
			fn(event.WorkspaceID)
		}
	}
}
