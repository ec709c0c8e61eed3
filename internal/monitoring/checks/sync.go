package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/inspectsync/internal/monitoring"
)

// OnlineReporter exposes the connectivity heuristic.
type OnlineReporter interface {
	IsOnline() bool
}

// QueueReporter exposes local store state.
type QueueReporter interface {
	IntentCount(ctx context.Context) (int64, error)
	Degraded() bool
}

// Connectivity reports whether the remote API is believed reachable. Offline is
// a normal operating mode for the agent, so it only degrades the report.
func Connectivity(monitor OnlineReporter) monitoring.Check {
	return monitoring.NewCheck("connectivity", func(context.Context) monitoring.ProbeResult {
		if monitor == nil || !monitor.IsOnline() {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "offline"}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "online"}
	}).Optional()
}

// Store reports the pending queue depth and whether persistence fell back to memory.
func Store(local QueueReporter) monitoring.Check {
	return monitoring.NewCheck("store", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if local == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "store not configured"}
		}

		count, err := local.IntentCount(ctx)
		if err != nil {
			return monitoring.ResultFromError("store", err, time.Since(start))
		}

		details := fmt.Sprintf("%d pending intents", count)
		if local.Degraded() {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  details + "; persistence unavailable, running in memory",
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  details,
			Duration: time.Since(start),
		}
	})
}
