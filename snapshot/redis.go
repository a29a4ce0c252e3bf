package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisSink stores snapshots as Redis string values, one key per room.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink writing to the given Redis client. Keys are
// "<prefix><roomID>"; a zero ttl keeps snapshots until overwritten.
func NewRedisSink(client *redis.Client, prefix string, ttl time.Duration) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: client, prefix: prefix, ttl: ttl}, nil
}

// Store writes the encoded state for one room.
func (s *RedisSink) Store(ctx context.Context, roomID string, state []byte) error {
	key := s.prefix + roomID
	if err := s.client.Set(ctx, key, state, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %q: %w", key, err)
	}
	return nil
}
