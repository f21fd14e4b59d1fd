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
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRateLimiter(client, limit), mr
}

func TestAllowWithinLimit(t *testing.T) {
	limiter, _ := newTestRateLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow(ctx, "tenant-1")
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, resetTime := limiter.Allow(ctx, "tenant-1")
	assert.False(t, allowed)
	assert.False(t, resetTime.IsZero())
}

func TestAllowPerTenantIsolation(t *testing.T) {
	limiter, _ := newTestRateLimiter(t, 1)
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "tenant-1")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "tenant-1")
	assert.False(t, allowed)

	// A different tenant has its own window
	allowed, _ = limiter.Allow(ctx, "tenant-2")
	assert.True(t, allowed)
}

// Redis failures must not reject requests.
func TestAllowFailsOpen(t *testing.T) {
	limiter, mr := newTestRateLimiter(t, 1)
	mr.Close()

	allowed, _ := limiter.Allow(context.Background(), "tenant-1")
	assert.True(t, allowed)
}

func TestAllowDisabled(t *testing.T) {
	limiter := NewRateLimiter(nil, 100)
	allowed, _ := limiter.Allow(context.Background(), "tenant-1")
	assert.True(t, allowed)

	limiter, _ = newTestRateLimiter(t, 0)
	allowed, _ = limiter.Allow(context.Background(), "tenant-1")
	assert.True(t, allowed)
}
