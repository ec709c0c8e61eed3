package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/inspectsync/internal/monitoring"
)

const defaultPingTimeout = 2 * time.Second

// RedisPinger is satisfied by the shared aggregate cache.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

// pingContext bounds fn by timeout and folds its error into a probe result.
func pingContext(ctx context.Context, component string, timeout time.Duration, fn pingFunc) monitoring.ProbeResult {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return monitoring.ResultFromError(component, fn(probeCtx), time.Since(start))
}

// skipped is a result for checks that did not need to probe anything.
func skipped(status monitoring.ProbeStatus, details string) monitoring.ProbeResult {
	return monitoring.ProbeResult{Status: status, Details: details}
}

// Database pings the local mirror database. A memory-only agent has no handle
// and reports degraded, since reads still work but nothing survives a restart.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		if db == nil {
			return skipped(monitoring.StatusDegraded, "no database configured; running in memory")
		}
		return pingContext(ctx, "database", timeout, func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	})
}

// Redis probes the shared aggregate cache. Optional: stats fall back to the
// in-process cache when redis is away.
func Redis(client RedisPinger, enabled bool, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return skipped(monitoring.StatusUp, "redis disabled")
		case client == nil:
			return skipped(monitoring.StatusDegraded, "redis unavailable")
		}
		return pingContext(ctx, "redis", timeout, client.Ping)
	}).Optional()
}
