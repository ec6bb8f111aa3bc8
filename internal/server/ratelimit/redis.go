package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript prunes, counts and conditionally appends in one atomic step.
// A per-key counter keeps sorted-set members unique within a millisecond.
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return {0, 0}
	end

	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', key .. ':seq', window_ms)
	return {1, limit - current - 1}
`)

// RedisLimiter keeps windows in Redis sorted sets so several server
// processes can share one budget per client. Keys expire on their own, so
// there is nothing to sweep.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, win time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: win,
		now:    time.Now,
	}
}

// Admit fails open: when Redis is unreachable the request is admitted and
// the error logged, so an outage of the limiter store never blocks uploads.
func (l *RedisLimiter) Admit(ctx context.Context, key string) bool {
	allowed, _, err := l.admit(ctx, key)
	if err != nil {
		slog.Error("rate limiter unavailable, admitting", "key", key, "error", err)
		return true
	}
	return allowed
}

func (l *RedisLimiter) admit(ctx context.Context, key string) (bool, int, error) {
	now := l.now()
	res, err := admitScript.Run(ctx, l.client, []string{l.prefix + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis script error: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected redis response length: %d", len(res))
	}
	return res[0] == 1, int(res[1]), nil
}

// Remaining reports how many admissions key has left in the current window.
func (l *RedisLimiter) Remaining(ctx context.Context, key string) (int, error) {
	now := l.now()
	count, err := l.client.ZCount(ctx, l.prefix+key,
		fmt.Sprintf("(%d", now.Add(-l.window).UnixMilli()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count admissions: %w", err)
	}
	return max(0, l.limit-int(count)), nil
}

// Ping checks connectivity, for startup and health checks.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
