package maintenance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/store"
	"github.com/charlesng35/inspectsync/pkg/logger"
)

const (
	defaultMaxAge        = 7 * 24 * time.Hour
	defaultPurgeSpec     = "@hourly"
	defaultQueueSpec     = "@every 15m"
	jobPurgeMirror       = "mirror_purge"
	jobQueueReport       = "queue_report"
	defaultJobRunTimeout = 2 * time.Minute
)

// Store is the local store surface housekeeping needs.
type Store interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (store.PurgeStats, error)
	ListIntents(ctx context.Context) ([]models.PendingIntent, error)
}

// JobStatus summarises the run history of one housekeeping job.
type JobStatus struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Cleaner runs mirror housekeeping on a cron schedule: it purges cached records
// and aggregates past maxAge and reports intents that have waited longer than
// maxAge. Pending intents are never deleted here.
type Cleaner struct {
	store  Store
	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger
	maxAge time.Duration

	purgeSchedule string
	queueSchedule string

	mu   sync.Mutex
	jobs map[string]*JobStatus
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for age comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithMaxAge adjusts how long cached rows are retained.
func WithMaxAge(age time.Duration) Option {
	return func(cleaner *Cleaner) {
		if age > 0 {
			cleaner.maxAge = age
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the mirror purge.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// WithQueueSchedule overrides the cron specification for the stale intent report.
func WithQueueSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.queueSchedule = spec
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(s Store, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		store:         s,
		now:           time.Now,
		maxAge:        defaultMaxAge,
		purgeSchedule: defaultPurgeSpec,
		queueSchedule: defaultQueueSpec,
		log:           logger.WithModule("maintenance"),
		jobs:          make(map[string]*JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the housekeeping jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.store == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
		c.runJob(jobPurgeMirror, c.purge)
	}); err != nil {
		return err
	}
	if _, err := c.cron.AddFunc(c.queueSchedule, func() {
		c.runJob(jobQueueReport, c.reportStaleIntents)
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every housekeeping routine sequentially and combines their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if c.store == nil {
		return errors.New("maintenance: store is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	errs = multierr.Append(errs, c.record(jobPurgeMirror, func() error { return c.purge(ctx) }))
	errs = multierr.Append(errs, c.record(jobQueueReport, func() error { return c.reportStaleIntents(ctx) }))
	return errs
}

// Jobs returns the run history of every job that ran at least once, ordered by name.
func (c *Cleaner) Jobs() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.jobs))
	for _, status := range c.jobs {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (c *Cleaner) purge(ctx context.Context) error {
	stats, err := c.store.PurgeOlderThan(ctx, c.maxAge)
	if err != nil {
		return err
	}
	if stats.Records > 0 || stats.Entries > 0 {
		c.log.Info("purged stale mirror data",
			zap.Int64("records", stats.Records),
			zap.Int64("entries", stats.Entries),
			zap.Duration("max_age", c.maxAge),
		)
	}
	return nil
}

func (c *Cleaner) reportStaleIntents(ctx context.Context) error {
	intents, err := c.store.ListIntents(ctx)
	if err != nil {
		return err
	}

	cutoff := c.now().Add(-c.maxAge)
	for _, intent := range intents {
		if intent.CreatedAt.Before(cutoff) {
			c.log.Warn("intent pending beyond retention window",
				zap.Uint64("intent_id", intent.ID),
				zap.String("entity_id", intent.EntityID),
				zap.String("new_state", intent.NewState.String()),
				zap.Time("created_at", intent.CreatedAt),
				zap.Int("retry_count", intent.RetryCount),
			)
		}
	}
	return nil
}

func (c *Cleaner) runJob(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobRunTimeout)
	defer cancel()

	if err := c.record(name, func() error { return fn(ctx) }); err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
	}
}

func (c *Cleaner) record(name string, fn func() error) error {
	start := c.now()
	err := fn()
	duration := c.now().Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.jobs[name]
	if status == nil {
		status = &JobStatus{Job: name}
		c.jobs[name] = status
	}
	status.TotalRuns++
	status.LastRunAt = start
	status.LastDuration = duration
	if err != nil {
		status.LastStatus = "failure"
		status.LastError = err.Error()
		status.ConsecutiveFailures++
	} else {
		status.LastStatus = "success"
		status.LastError = ""
		status.ConsecutiveFailures = 0
	}
	return err
}
