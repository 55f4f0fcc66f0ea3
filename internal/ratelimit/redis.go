package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both windows are sorted sets of attempt timestamps (ms). The script prunes,
// checks, and records in one round trip so concurrent deliveries to the same
// destination cannot double-count.
var allowScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local hourLimit = tonumber(ARGV[2])
	local dayLimit = tonumber(ARGV[3])
	local member = ARGV[4]
	local hourMs = 3600000
	local dayMs = 86400000

	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - hourMs)
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - dayMs)

	local window = ''
	local resetIn = 0

	if hourLimit > 0 and redis.call('ZCARD', KEYS[1]) >= hourLimit then
		local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
		resetIn = tonumber(oldest[2]) + hourMs - now
		window = 'hour'
	end

	if dayLimit > 0 and redis.call('ZCARD', KEYS[2]) >= dayLimit then
		local oldest = redis.call('ZRANGE', KEYS[2], 0, 0, 'WITHSCORES')
		local reset = tonumber(oldest[2]) + dayMs - now
		if reset > resetIn then
			resetIn = reset
		end
		window = 'day'
	end

	if window ~= '' then
		return {0, resetIn, window}
	end

	if hourLimit > 0 then
		redis.call('ZADD', KEYS[1], now, member)
		redis.call('PEXPIRE', KEYS[1], hourMs)
	end
	if dayLimit > 0 then
		redis.call('ZADD', KEYS[2], now, member)
		redis.call('PEXPIRE', KEYS[2], dayMs)
	end
	return {1, 0, ''}
`)

type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// WithClock replaces the clock (tests).
func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limits Limits) (*Result, error) {
	if limits.Unlimited() {
		return &Result{Allowed: true}, nil
	}

	keys := []string{
		fmt.Sprintf("ratelimit:{%s}:hour", key),
		fmt.Sprintf("ratelimit:{%s}:day", key),
	}
	raw, err := allowScript.Run(ctx, r.client, keys,
		r.now().UnixMilli(), limits.PerHour, limits.PerDay, uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("rate limit check: unexpected result %v", raw)
	}

	allowed, _ := raw[0].(int64)
	resetMs, _ := raw[1].(int64)
	window, _ := raw[2].(string)
	return &Result{
		Allowed: allowed == 1,
		Window:  window,
		ResetIn: time.Duration(resetMs) * time.Millisecond,
	}, nil
}
