// Package inflight allows one pending analysis per owner.
package inflight

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// New returns a Redis guard when rdb is non-nil, else an in-process one.
func New(rdb *redis.Client, ttl time.Duration) domain.InFlightGuard {
	if rdb != nil {
		return NewRedisGuard(rdb, ttl)
	}
	return NewMemoryGuard(ttl)
}

// RedisGuard holds a SET NX PX lock per key. The TTL frees keys left behind
// by a crashed replica. While Redis is unreachable it falls back to a
// per-replica MemoryGuard.
type RedisGuard struct {
	rdb      *redis.Client
	ttl      time.Duration
	fallback *MemoryGuard
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, fallback: NewMemoryGuard(ttl)}
}

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire implements domain.InFlightGuard.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := newToken()
	rk := "inflight:" + key
	ok, err := g.rdb.SetNX(ctx, rk, token, g.ttl).Result()
	if err != nil {
		slog.Warn("in-flight lock unavailable, guarding in process", slog.String("key", key), slog.Any("error", err))
		return g.fallback.Acquire(ctx, key)
	}
	if !ok {
		return nil, fmt.Errorf("op=inflight.Acquire: %w: an analysis is already in progress", domain.ErrConflict)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.rdb, []string{rk}, token).Err(); err != nil {
				slog.Warn("in-flight lock release failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

func newToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// MemoryGuard is the single-replica fallback.
type MemoryGuard struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	seq  uint64
	held map[string]held
}

type held struct {
	seq     uint64
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryGuard{ttl: ttl, now: time.Now, held: make(map[string]held)}
}

// Acquire implements domain.InFlightGuard.
func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if h, ok := g.held[key]; ok && now.Before(h.expires) {
		return nil, fmt.Errorf("op=inflight.Acquire: %w: an analysis is already in progress", domain.ErrConflict)
	}
	g.seq++
	mine := held{seq: g.seq, expires: now.Add(g.ttl)}
	g.held[key] = mine
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if cur, ok := g.held[key]; ok && cur.seq == mine.seq {
				delete(g.held, key)
			}
		})
	}, nil
}
