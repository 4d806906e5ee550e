package hint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list key holding the ready-queue hint.
const DefaultRedisKey = "jobs:queue"

// Redis is a Redis-list backed hint queue shared between server replicas.
// LPUSH at the tail and RPOP at the head give FIFO order.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to the given redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Redis{client: client, key: DefaultRedisKey}, nil
}

// Push appends ids to the queue.
func (r *Redis) Push(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	if err := r.client.LPush(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push to hint queue: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest id.
func (r *Redis) Pop(ctx context.Context) (string, error) {
	id, err := r.client.RPop(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop from hint queue: %w", err)
	}
	return id, nil
}

// Len returns the current queue depth.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read hint queue length: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
