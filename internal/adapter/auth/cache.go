package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// cachedAuthenticator remembers successful lookups in Redis, keyed by a hash
// of the token. Failures are never cached.
type cachedAuthenticator struct {
	base domain.Authenticator
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCache wraps base with a Redis cache. base is returned unmodified when
// rdb is nil or ttl is not positive.
func NewCache(base domain.Authenticator, rdb *redis.Client, ttl time.Duration) domain.Authenticator {
	if rdb == nil || ttl <= 0 || base == nil {
		return base
	}
	return &cachedAuthenticator{base: base, rdb: rdb, ttl: ttl}
}

func (c *cachedAuthenticator) Authenticate(ctx domain.Context, token string) (domain.Owner, error) {
	key := keyFor(token)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var o domain.Owner
		if json.Unmarshal(b, &o) == nil && o.ID != "" {
			return o, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("auth cache read failed", slog.Any("error", err))
	}

	o, err := c.base.Authenticate(ctx, token)
	if err != nil {
		return domain.Owner{}, err
	}
	if b, err := json.Marshal(o); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			slog.Warn("auth cache write failed", slog.Any("error", err))
		}
	}
	return o, nil
}

func keyFor(token string) string {
	h := sha256.Sum256([]byte(token))
	return "auth:" + hex.EncodeToString(h[:])
}
