package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpaulsen/stampede/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRatePerSec int64 = 50
	windowMillis      int64 = 1000
	minRetryDelay           = 5 * time.Millisecond
)

// throttleScript counts one render against the current one-second window.
// It returns -1 when the call is admitted, otherwise the window's remaining
// TTL in milliseconds so the caller knows when capacity returns.
var throttleScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  local wait = redis.call("PTTL", KEYS[1])
  if wait < 0 then
    wait = tonumber(ARGV[2])
  end
  return wait
end
return -1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps render throughput across the whole worker fleet.
// Every process INCRs the same per-second counter key, so adding workers
// never multiplies the configured rate.
type RedisRateLimiter struct {
	client     *goredis.Client
	ratePerSec int64
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	script     *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, ratePerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(ratePerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	ratePerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:     client,
		ratePerSec: ratePerSec,
		now:        nowFn,
		sleep:      sleepFn,
		script:     throttleScript,
	}, nil
}

// Allow reports whether one more render fits into the current window.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	allowed, _, err := r.admit(ctx, scope)
	return allowed, err
}

// Wait blocks until the scope has capacity or ctx ends. Denials carry the
// window's remaining TTL, so each retry sleeps through to the window edge
// rather than polling redis.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, retryAfter, err := r.admit(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retryAfter < minRetryDelay {
			retryAfter = minRetryDelay
		}
		if err := r.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) admit(ctx context.Context, scope string) (bool, time.Duration, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(scope))
	if normalized == "" {
		return false, 0, fmt.Errorf("scope is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("throttle:%s:%d", normalized, r.now().UTC().Unix())
	verdict, err := r.script.Run(ctx, r.client, []string{key}, r.ratePerSec, windowMillis).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	if verdict < 0 {
		return true, 0, nil
	}

	return false, time.Duration(verdict) * time.Millisecond, nil
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
