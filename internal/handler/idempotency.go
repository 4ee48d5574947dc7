package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client-chosen key for a checkout request.
const IdempotencyHeader = "Idempotency-Key"

// Idempotency remembers checkout keys. Seen claims key and reports whether it
// was already claimed; Release gives a key back after a failed checkout so the
// client can retry it.
type Idempotency interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisIdempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotency(rdb *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{rdb: rdb, ttl: ttl}
}

func (s *RedisIdempotency) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *RedisIdempotency) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// idempotencyKey scopes a client key to its buyer.
func idempotencyKey(userID, clientKey string) string {
	return fmt.Sprintf("idem:checkout:%s:%s", userID, clientKey)
}
