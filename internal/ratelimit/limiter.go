// Package ratelimit admits or rejects requests per client before any model
// or tool work happens.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/scout/internal/config"
)

const (
	DefaultRequests = 10
	DefaultWindow   = time.Minute
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Admitter decides whether a client may start another request.
type Admitter interface {
	Admit(ctx context.Context, clientKey string) (Decision, error)
}

// New builds the admitter selected by cfg. The redis backend falls back to
// memory when no client is available.
func New(cfg config.RateLimitConfig, rdb *redis.Client) Admitter {
	if cfg.Backend == "redis" && rdb != nil {
		return NewRedisLimiter(rdb, cfg.Requests, cfg.Window)
	}
	if cfg.Backend == "redis" {
		slog.Warn("redis rate limit backend selected without redis; using memory")
	}
	return NewMemoryLimiter(cfg.Requests, cfg.Window)
}

// RedisLimiter performs sliding-window rate limiting backed by Redis sorted
// sets, shared across replicas.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// slidingWindowScript atomically: removes expired entries, adds current, counts.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro), used as both score and member uniqueness
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=allowed/0=denied, oldest_score]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1, now}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
redis.call('EXPIRE', key, ttl)
return {count, 0, tonumber(oldest[2])}
`)

// Admit fails open: a Redis error admits the request and is returned for logging.
func (l *RedisLimiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	now := l.now()
	windowStart := now.Add(-l.window).UnixMicro()
	nowMicro := now.UnixMicro()
	ttlSecs := int64(l.window.Seconds()) + 1

	redisKey := fmt.Sprintf("scout:rl:%s", clientKey)

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{redisKey},
		windowStart, nowMicro, l.limit, ttlSecs,
	).Int64Slice()
	if err != nil || len(result) < 3 {
		if err == nil {
			err = fmt.Errorf("unexpected rate limit script result %v", result)
		}
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(result[0])
	allowed := result[1] == 1
	resetAt := time.UnixMicro(result[2]).Add(l.window)

	d := Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		d.RetryAfter = max(resetAt.Sub(now), time.Second)
	}
	return d, nil
}
