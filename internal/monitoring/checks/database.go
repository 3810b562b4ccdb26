package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Database returns a readiness probe that pings the database pool.
func Database(db Pinger, timeout time.Duration) monitoring.Check {
	if db == nil {
		return unavailable("database", "database not configured")
	}
	return pingCheck("database", db.PingContext, chooseTimeout(timeout, defaultDatabaseTimeout))
}

// GormDatabase probes the pool behind a gorm handle.
func GormDatabase(db *gorm.DB, timeout time.Duration) monitoring.Check {
	if db == nil {
		return Database(nil, timeout)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return monitoring.NewCheck("database", func(context.Context) monitoring.ProbeResult {
			return monitoring.ResultFromError("database", err, 0)
		})
	}
	return Database(sqlDB, timeout)
}

// pingCheck runs ping under its own deadline so one slow dependency cannot
// hold the readiness endpoint past timeout.
func pingCheck(name string, ping func(ctx context.Context) error, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return monitoring.ResultFromError(name, ping(probeCtx), time.Since(start))
	})
}

// unavailable always reports down with details.
func unavailable(name, details string) monitoring.Check {
	return monitoring.NewCheck(name, func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: name, Status: monitoring.StatusDown, Details: details}
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
