// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisKV exposes Redis as the atomic key-value primitive the heavy-ops
// lock is built on.
type RedisKV struct {
	client goredis.UniversalClient
}

// NewRedisKV wraps a Redis client as an atomic KV.
func NewRedisKV(client goredis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// SetNX stores the value only if the key is absent.
func (k *RedisKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := k.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Get returns the stored value and whether the key exists.
func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := k.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return raw, true, nil
}

// Set stores the value unconditionally with a fresh TTL.
func (k *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := k.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Del removes the key.
func (k *RedisKV) Del(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
