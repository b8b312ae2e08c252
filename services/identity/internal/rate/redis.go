package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sono:identity:rl:"

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl = window_ms
end

if current > limit then
  return {0, ttl, 0}
end
return {1, ttl, limit - current}
`)

// RedisLimiter shares windows across instances; the script makes INCR and
// PEXPIRE one atomic step.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule, _ time.Time) (Decision, error) {
	if err := validRule(rule); err != nil {
		return Decision{}, err
	}

	windowMS := rule.Window.Milliseconds()
	res, err := rateLimitScript.Run(ctx, l.client, []string{l.prefix + key}, rule.Limit, windowMS).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected redis response %v", res)
	}

	d := Decision{Allowed: res[0] == 1, Remaining: int(res[2])}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[1]) * time.Millisecond
	}
	return d, nil
}
