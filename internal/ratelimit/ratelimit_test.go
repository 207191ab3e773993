package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx := context.Background()
	limiter, err := New(ctx, addr, os.Getenv("REDIS_PASSWORD"), 3, time.Minute)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer limiter.Close()

	key := "test:" + uuid.NewString()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := limiter.client.TTL(ctx, limiter.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
