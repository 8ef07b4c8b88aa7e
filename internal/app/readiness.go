package app

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ielts-writing-coach/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns the probes served by /readyz. The database is
// always checked; redis and the event broker only when configured.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, broker Pinger) []httpserver.Probe {
	probes := []httpserver.Probe{{
		Name: "db",
		Check: func(ctx context.Context) error {
			if pool == nil {
				return errors.New("db not configured")
			}
			return pool.Ping(ctx)
		},
	}}
	if rdb != nil {
		probes = append(probes, httpserver.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	if broker != nil {
		probes = append(probes, httpserver.Probe{Name: "broker", Check: broker.Ping})
	}
	return probes
}
