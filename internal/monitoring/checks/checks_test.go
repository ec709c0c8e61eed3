package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/internal/app/maintenance"
	"github.com/charlesng35/inspectsync/internal/database/testutil"
	"github.com/charlesng35/inspectsync/internal/monitoring"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type jobs []maintenance.JobStatus

func (j jobs) Jobs() []maintenance.JobStatus { return j }

type online bool

func (o online) IsOnline() bool { return bool(o) }

type queue struct {
	count    int64
	err      error
	degraded bool
}

func (q queue) IntentCount(context.Context) (int64, error) { return q.count, q.err }
func (q queue) Degraded() bool                             { return q.degraded }

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}

func TestRedisCheck(t *testing.T) {
	check := Redis(pinger{}, true, time.Second)
	require.False(t, check.Critical)
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)

	failing := Redis(pinger{err: errors.New("connection refused")}, true, time.Second)
	require.Equal(t, monitoring.StatusDown, failing.Run(context.Background()).Status)

	disabled := Redis(nil, false, 0)
	require.Equal(t, "redis disabled", disabled.Run(context.Background()).Details)
}

func TestMaintenanceCheck(t *testing.T) {
	now := time.Now()

	healthy := Maintenance(jobs{{Job: "mirror_purge", LastStatus: "success", LastRunAt: now}}, time.Hour)
	require.Equal(t, monitoring.StatusUp, healthy.Run(context.Background()).Status)

	failing := Maintenance(jobs{{Job: "mirror_purge", LastError: "disk full", ConsecutiveFailures: 2, LastRunAt: now}}, time.Hour)
	result := failing.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "disk full")

	stale := Maintenance(jobs{{Job: "queue_report", LastRunAt: now.Add(-2 * time.Hour)}}, time.Hour)
	require.Contains(t, stale.Run(context.Background()).Details, "stale run")
}

func TestConnectivityCheck(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, Connectivity(online(true)).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, Connectivity(online(false)).Run(context.Background()).Status)
}

func TestStoreCheck(t *testing.T) {
	result := Store(queue{count: 4}).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "4 pending intents", result.Details)

	degraded := Store(queue{count: 1, degraded: true}).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, degraded.Status)

	failed := Store(queue{err: errors.New("locked")}).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, failed.Status)
}
