package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	rateLimitWindow          = time.Second
	rateLimitKeyPrefix       = "notify:ratelimit:email:"
	minWait                  = time.Millisecond
)

// windowScript counts one send in the window held by KEYS[1] and returns the
// count so far. The key outlives its window so late readers still see it.
var windowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter throttles email sends per routing key with one second
// fixed windows shared by every worker process.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow takes a send slot for routingKey if the current window has one left.
func (r *RedisRateLimiter) Allow(ctx context.Context, routingKey string) (bool, error) {
	wait, err := r.reserve(ctx, routingKey)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until a send slot for routingKey is granted or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, routingKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, err := r.reserve(ctx, routingKey)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, max(wait, minWait)); err != nil {
			return err
		}
	}
}

// reserve counts a send in the current window. It returns zero when the send
// fits, otherwise the time left until the next window opens.
func (r *RedisRateLimiter) reserve(ctx context.Context, routingKey string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	routingKey = strings.ToLower(strings.TrimSpace(routingKey))
	if routingKey == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	window := now.Truncate(rateLimitWindow)

	count, err := windowScript.Run(ctx, r.client,
		[]string{RateLimitKey(routingKey, window)},
		(2 * rateLimitWindow).Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if count <= r.limitPerSec {
		return 0, nil
	}
	return window.Add(rateLimitWindow).Sub(now), nil
}

// RateLimitKey is the Redis key counting sends of routingKey in the window
// starting at window.
func RateLimitKey(routingKey string, window time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, routingKey, window.Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
