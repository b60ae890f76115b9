package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts attempts per key in fixed windows: the first INCR in a
// window sets the expiry, and every attempt past max is refused until the key
// expires.
type RateLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, max: max, window: window}
}

// Allow records one attempt for scope/key. When the attempt is over the limit
// it returns false and how long until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, scope, key string) (bool, time.Duration, error) {
	redisKey := "ratelimit:" + scope + ":" + key

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("auth: rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, 0, fmt.Errorf("auth: rate limit expire: %w", err)
		}
	}

	if count <= int64(l.max) {
		return true, 0, nil
	}

	ttl, err := l.rdb.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		// A key without expiry would lock the client out forever.
		_ = l.rdb.Expire(ctx, redisKey, l.window).Err()
		ttl = l.window
	}
	return false, ttl, nil
}
