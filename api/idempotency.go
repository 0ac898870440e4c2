package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers idempotency keys of accepted drag requests.
type Deduper interface {
	Add(ctx context.Context, viewerID, key string) (bool, error)
	Remove(ctx context.Context, viewerID, key string) error
}

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid applying the same drag twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(viewerID, key string) string {
	return fmt.Sprintf("drag:%s:%s", viewerID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, viewerID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(viewerID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the drag is
// rejected so the caller may send it again.
func (r *RedisDeduper) Remove(ctx context.Context, viewerID, key string) error {
	return r.client.Del(ctx, r.key(viewerID, key)).Err()
}
