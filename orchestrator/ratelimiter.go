// Copyright 2025 AI Advisor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter enforces a per-tenant sliding-window request budget backed by
// Redis. A nil client or a zero limit disables enforcement, and Redis
// errors fail open — rate limiting must never take the service down.
type RateLimiter struct {
	client         *redis.Client
	limitPerMinute int
}

// NewRateLimiter creates a limiter. client may be nil.
func NewRateLimiter(client *redis.Client, limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		client:         client,
		limitPerMinute: limitPerMinute,
	}
}

// Allow records one request for the tenant and reports whether it is within
// budget. On exceed it also returns when the window resets.
func (r *RateLimiter) Allow(ctx context.Context, tenantID string) (bool, time.Time) {
	if r.client == nil || r.limitPerMinute <= 0 {
		return true, time.Time{}
	}

	now := time.Now()
	key := "ratelimit:" + tenantID

	pipe := r.client.Pipeline()

	// Drop timestamps outside the one-minute window
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))

	pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("Rate limit check failed for %s: %v (failing open)", tenantID, err)
		return true, time.Time{}
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(r.limitPerMinute) {
		resetTime := now.Truncate(time.Minute).Add(time.Minute)
		return false, resetTime
	}

	return true, time.Time{}
}

// newRedisClient connects to Redis from a URL. Returns nil (with a log
// line) when the URL is empty or the connection cannot be established, so
// Redis-backed features degrade instead of blocking startup.
func newRedisClient(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Failed to parse Redis URL: %v", err)
		return nil
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		_ = client.Close()
		return nil
	}

	log.Printf("Redis connected")
	return client
}
