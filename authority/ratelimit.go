// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/governance/shared/logger"
)

// Limiter enforces per-key rate limits for tool calls.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether one more call is permitted for the key.
	Allow(ctx context.Context, key string, limit RateLimit) bool

	// Reset clears all limiter state.
	Reset()
}

// MemoryLimiter is a fixed-window in-process rate limiter.
// Suitable for single-instance deployments and as a fallback when
// Redis is unavailable.
type MemoryLimiter struct {
	mu       sync.Mutex
	trackers map[string]*callWindow
	now      func() time.Time
}

type callWindow struct {
	count int
	start time.Time
}

// NewMemoryLimiter creates an in-memory fixed-window limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return NewMemoryLimiterWithClock(time.Now)
}

// NewMemoryLimiterWithClock creates a limiter with an injected time source.
// Used in tests to make window boundaries deterministic.
func NewMemoryLimiterWithClock(now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		trackers: make(map[string]*callWindow),
		now:      now,
	}
}

// Allow implements Limiter using a fixed window per key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit RateLimit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.trackers[key]
	if !ok || now.Sub(w.start) > limit.Window {
		l.trackers[key] = &callWindow{count: 1, start: now}
		return true
	}

	if w.count >= limit.MaxCalls {
		return false
	}

	w.count++
	return true
}

// Reset clears all tracked windows.
func (l *MemoryLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trackers = make(map[string]*callWindow)
}

// RedisLimiter is a sliding-window rate limiter backed by Redis,
// shared across gateway instances. Redis failures fail open so a
// cache outage cannot take down request governance.
type RedisLimiter struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisLimiter creates a Redis-backed sliding-window limiter.
func NewRedisLimiter(client *redis.Client, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, log: log}
}

// Allow implements Limiter using a sorted-set sliding window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit RateLimit) bool {
	now := time.Now()
	redisKey := fmt.Sprintf("governance:ratelimit:%s", key)

	pipe := l.client.Pipeline()

	// Drop timestamps outside the sliding window
	minScore := now.Add(-limit.Window).UnixNano()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", minScore))

	// Count calls in the current window
	pipe.ZCard(ctx, redisKey)

	// Record this call
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Expire idle keys
	pipe.Expire(ctx, redisKey, 2*limit.Window)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open on Redis errors
		l.log.Warn("", "", "Redis rate limit check failed, failing open", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return true
	}

	// ZCard counts calls before this one was added
	count := cmds[1].(*redis.IntCmd).Val()
	return count < int64(limit.MaxCalls)
}

// Reset is a no-op for the Redis limiter: window state expires on its own
// and flushing shared keys would affect other instances.
func (l *RedisLimiter) Reset() {}
