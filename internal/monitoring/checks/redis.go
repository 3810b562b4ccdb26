package checks

import (
	"context"
	"time"

	"github.com/charlesng35/accounts/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// RedisPinger is satisfied by cache.RedisStore.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Redis returns a readiness probe for the throttle cache. A nil client means
// Redis is enabled but could not be reached at startup, which keeps the
// service out of rotation while it throttles on the database.
func Redis(client RedisPinger, timeout time.Duration) monitoring.Check {
	if client == nil {
		return unavailable("redis", "redis unavailable")
	}
	return pingCheck("redis", client.Ping, chooseTimeout(timeout, defaultRedisTimeout))
}
