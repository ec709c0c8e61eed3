package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/inspectsync/internal/app/maintenance"
	"github.com/charlesng35/inspectsync/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// JobReporter exposes housekeeping run history.
type JobReporter interface {
	Jobs() []maintenance.JobStatus
}

// Maintenance degrades when a housekeeping job keeps failing or has not run
// within maxAge (6h when zero). Jobs that never ran are not judged.
func Maintenance(reporter JobReporter, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return skipped(monitoring.StatusUp, "maintenance disabled")
		}

		jobs := reporter.Jobs()
		if len(jobs) == 0 {
			return skipped(monitoring.StatusUp, "no maintenance runs yet")
		}

		var problems []string
		for _, job := range jobs {
			problems = append(problems, jobProblems(job, time.Now(), maxAge)...)
		}
		if len(problems) > 0 {
			return skipped(monitoring.StatusDegraded, strings.Join(problems, "; "))
		}
		return skipped(monitoring.StatusUp, fmt.Sprintf("%d jobs healthy", len(jobs)))
	}).Optional()
}

func jobProblems(job maintenance.JobStatus, now time.Time, maxAge time.Duration) []string {
	var problems []string
	if job.ConsecutiveFailures > 0 {
		problems = append(problems, fmt.Sprintf("%s: %s (%d consecutive failures)", job.Job, job.LastError, job.ConsecutiveFailures))
	}
	if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge {
		problems = append(problems, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
	}
	return problems
}
