// Package ratelimit guards the ingest path with a Redis-backed sliding
// window. Limits are keyed per client and session, so one busy SDK
// behind a shared NAT does not starve its neighbors.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftline-systems/driftline-stack/gateway/internal/metrics"
)

// keyPrefix namespaces limiter entries in Redis.
const keyPrefix = "driftline:ratelimit:"

// slidingWindowScript trims entries older than the window, then admits
// the call if the remaining count is under the limit. Runs server-side
// so check-and-add is atomic. The key TTL is derived from the window so
// an idle counter expires on its own.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, now)
	redis.call('EXPIRE', key, ttl)
	return 1
end
return 0
`

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// ClientKey composes the limiter key for one submission.
func ClientKey(ip, sessionID string) string {
	if sessionID == "" {
		return ip
	}
	return ip + ":" + sessionID
}

type redisRateLimiter struct {
	client   *redis.Client
	limit    int64
	window   time.Duration
	disabled bool
}

func NewRedisRateLimiter(redisURL string, limit int, window time.Duration, disabled bool) (RateLimiter, error) {
	if disabled {
		return &redisRateLimiter{disabled: true}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// Allow reports whether one more submission fits inside the window for
// this key.
func (r *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.disabled {
		return true, nil
	}

	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	// TTL outlives the window by a second so entries never expire while
	// still countable.
	ttl := int64(r.window/time.Second) + 1

	result, err := r.client.Eval(ctx, slidingWindowScript,
		[]string{keyPrefix + key}, now, windowStart, r.limit, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.WithLabelValues(key).Inc()
	}
	return allowed, nil
}

func (r *redisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// NoOpRateLimiter admits everything. Used when limiting is disabled and
// as the handler fallback when no limiter is configured.
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
