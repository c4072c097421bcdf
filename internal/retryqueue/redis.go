package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink keeps entries on a Redis list, newest at the head.
type RedisSink struct {
	rdb *redis.Client
	key string
}

// NewRedisSink connects to the Redis server at url (redis://host:port/db).
func NewRedisSink(url, key string) (*RedisSink, error) {
	if key == "" {
		return nil, fmt.Errorf("retry queue key cannot be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisSinkWithOptions(opts, key), nil
}

// NewRedisSinkWithOptions builds a sink from explicit client options.
func NewRedisSinkWithOptions(opts *redis.Options, key string) *RedisSink {
	return &RedisSink{rdb: redis.NewClient(opts), key: key}
}

// Push implements Sink.
func (s *RedisSink) Push(ctx context.Context, data []byte) error {
	if err := s.rdb.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push retry entry: %w", err)
	}
	return nil
}

// Pop removes the oldest entry. It returns nil, nil when the list is empty.
func (s *RedisSink) Pop(ctx context.Context) (*Entry, error) {
	data, err := s.rdb.RPop(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop retry entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode retry entry: %w", err)
	}
	return &e, nil
}

// Len reports how many entries are waiting.
func (s *RedisSink) Len(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, s.key).Result()
}

// Ping verifies Redis connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
