// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is the Redis cache adapter: synthesis response caching,
// orchestrator batching, and injection dedupe.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// ErrMiss is returned on a cache miss.
var ErrMiss = errors.New("cache miss")

// Cache wraps a Redis client with per-operation timeouts.
type Cache struct {
	client  *redis.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New connects to Redis from a URL (redis://host:port/db).
func New(url string, timeout time.Duration, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}

	return &Cache{
		client:  redis.NewClient(opts),
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Get reads a key; ErrMiss when absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// SetEx writes a key with a TTL.
func (c *Cache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Incr increments a counter and returns the new value.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr failed: %w", err)
	}
	return val, nil
}

// ListPushBounded pushes onto the head of a list and trims it to n
// entries, in one pipeline. Used for orchestrator turn batching.
func (c *Cache) ListPushBounded(ctx context.Context, key, value string, n int) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, int64(n-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache bounded push failed: %w", err)
	}
	return nil
}

// ListRange reads a slice of a list.
func (c *Cache) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vals, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache list range failed: %w", err)
	}
	return vals, nil
}

// Health pings the server.
func (c *Cache) Health(ctx context.Context) types.HealthStatus {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	status := types.HealthStatus{
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// Close releases the client.
func (c *Cache) Close() error { return c.client.Close() }
