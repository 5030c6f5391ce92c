// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client. The caller owns the client's lifecycle.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes value with SET key value EX ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Get reads key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(key)
	}
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return value, nil
}

// GetAndDelete uses GETDEL, which Redis executes atomically.
func (s *RedisStore) GetAndDelete(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(key)
	}
	if err != nil {
		return "", unavailable("getdel", key, err)
	}
	return value, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", key, err)
	}
	return nil
}

// TTL maps Redis' -2 (missing) and -1 (no expiry) replies.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	switch {
	case ttl == -2:
		return 0, notFound(key)
	case ttl < 0:
		return 0, nil
	default:
		return ttl, nil
	}
}

// Ping sends PING.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
