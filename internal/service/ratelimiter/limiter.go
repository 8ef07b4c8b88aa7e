// Package ratelimiter enforces per-owner analysis budgets with a token
// bucket, in Redis when available and in process otherwise.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether key may spend cost tokens now.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes a token bucket. A zero config disables limiting.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// Enabled reports whether the bucket limits anything.
func (c BucketConfig) Enabled() bool { return c.Capacity > 0 && c.RefillRate > 0 }

// NewBucketConfigFromPerHour allows perHour tokens per hour with a burst of perHour.
func NewBucketConfigFromPerHour(perHour int) BucketConfig {
	if perHour <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perHour),
		RefillRate: float64(perHour) / 3600.0,
	}
}

// New returns a Redis limiter when rdb is non-nil, else an in-process one.
func New(rdb *redis.Client, cfg BucketConfig) Limiter {
	if rdb != nil {
		return NewRedisLuaLimiter(rdb, cfg)
	}
	return NewMemoryLimiter(cfg)
}

// RedisLuaLimiter keeps buckets in Redis so every replica shares them.
type RedisLuaLimiter struct {
	redis  *redis.Client
	cfg    BucketConfig
	script *redis.Script
}

func NewRedisLuaLimiter(rdb *redis.Client, cfg BucketConfig) *RedisLuaLimiter {
	return &RedisLuaLimiter{
		redis:  rdb,
		cfg:    cfg,
		script: redis.NewScript(luaTokenBucketScript),
	}
}

// retry_after is returned in milliseconds because Redis truncates Lua numbers to integers.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after_ms = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_after_ms = math.ceil((cost - tokens) / refill_rate * 1000)
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, math.ceil(capacity / refill_rate) + 60)

return { allowed, retry_after_ms }
`

func (l *RedisLuaLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil || !l.cfg.Enabled() {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	nowSec := float64(time.Now().UnixNano()) / 1e9

	res, err := l.script.Run(ctx, l.redis, []string{"rate:" + key}, l.cfg.Capacity, l.cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		// Fail open: a Redis outage must not block analyses.
		return true, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toInt64(vals[1])) * time.Millisecond
	return allowed, retryAfter, nil
}

// MemoryLimiter is the single-replica fallback built on x/time/rate.
type MemoryLimiter struct {
	cfg     BucketConfig
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewMemoryLimiter(cfg BucketConfig) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || !l.cfg.Enabled() {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RefillRate), int(l.cfg.Capacity))
		l.buckets[key] = b
	}
	l.mu.Unlock()

	now := time.Now()
	r := b.ReserveN(now, int(cost))
	if !r.OK() {
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		if math.IsNaN(t) {
			return 0
		}
		return int64(t)
	default:
		return 0
	}
}
