package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
)

// DistributedRateLimiter implements a fixed-window limiter in Redis so that
// limits are shared across replicas
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	clock  clockwork.Clock
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		clock:  clockwork.NewRealClock(),
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow implements Limiter. The window starts at the first request.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	window := ttl.Val()
	if window < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		window = rl.config.WindowDuration
	}

	count := int(incr.Val())
	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= rl.config.RequestsPerWindow,
		Limit:     rl.config.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   rl.clock.Now().Add(window),
	}, nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}

var (
	_ Limiter = (*DistributedRateLimiter)(nil)
	_ Limiter = (*RateLimiter)(nil)
)

