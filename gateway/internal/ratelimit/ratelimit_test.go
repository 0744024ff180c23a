package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "any-key")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_Disabled(t *testing.T) {
	limiter, err := NewRedisRateLimiter("", 100, time.Minute, true)
	require.NoError(t, err)

	allowed, err := limiter.Allow(context.Background(), "some-ip")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_InvalidURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-valid-url", 100, time.Minute, false)
	assert.Error(t, err)
}

func setupLimiter(t *testing.T, limit int, window time.Duration) (RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), limit, window, false)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })
	return limiter, mr
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	limiter, _ := setupLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be under the limit", i+1)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed, "request over the limit should be denied")
}

func TestRedisRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different client is unaffected.
	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "10.0.0.1:sess-1", ClientKey("10.0.0.1", "sess-1"))
	assert.Equal(t, "10.0.0.1", ClientKey("10.0.0.1", ""))
}

func TestRedisRateLimiter_CounterTTLCoversWindow(t *testing.T) {
	limiter, mr := setupLimiter(t, 5, 2*time.Minute)

	allowed, err := limiter.Allow(context.Background(), "10.0.0.8")
	require.NoError(t, err)
	require.True(t, allowed)

	// A window longer than a minute must not lose its counter early.
	ttl := mr.TTL(keyPrefix + "10.0.0.8")
	assert.Greater(t, ttl, time.Minute, "counter TTL must cover the configured window")
	assert.LessOrEqual(t, ttl, 2*time.Minute+time.Second)
}

func TestRedisRateLimiter_WindowSlides(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, 30*time.Millisecond)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(40 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.True(t, allowed, "old entries should fall out of the window")
}
