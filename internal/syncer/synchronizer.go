package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/metrics"
)

const (
	// DefaultMaxAttempts is the number of failed replays after which an intent is dropped.
	DefaultMaxAttempts = 3
	// DefaultInterval is the periodic drain cadence.
	DefaultInterval = 30 * time.Second
)

// IntentQueue is the part of the local store the synchronizer drains.
type IntentQueue interface {
	ListIntents(ctx context.Context) ([]models.PendingIntent, error)
	RemoveIntent(ctx context.Context, id uint64) error
	UpdateIntent(ctx context.Context, id uint64, retryCount int, lastError string) error
}

// StatusUpdater applies a status change remotely.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, state models.InspectionStatus, idempotencyKey string) error
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	Skipped      bool `json:"skipped"`
	Offline      bool `json:"offline"`
	TokenExpired bool `json:"token_expired"`
	Attempted    int  `json:"attempted"`
	Succeeded    int  `json:"succeeded"`
	Failed       int  `json:"failed"`
	Abandoned    int  `json:"abandoned"`
	Deferred     int  `json:"deferred"`
	Remaining    int  `json:"remaining"`
}

// Ran reports whether the pass actually walked the queue.
func (r DrainResult) Ran() bool {
	return !r.Skipped && !r.Offline && !r.TokenExpired
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTokenSource lets the synchronizer skip drains while the bearer token is expired.
func WithTokenSource(token func() string) Option {
	return func(s *Synchronizer) {
		s.token = token
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDrainHook registers fn to run after every pass that walked the queue.
func WithDrainHook(fn func(DrainResult)) Option {
	return func(s *Synchronizer) {
		s.onDrain = fn
	}
}

// Synchronizer replays queued intents against the remote API.
type Synchronizer struct {
	queue       IntentQueue
	remote      StatusUpdater
	monitor     *connectivity.Monitor
	maxAttempts int
	token       func() string
	now         func() time.Time
	onDrain     func(DrainResult)
	log         *zap.Logger

	draining atomic.Bool
}

// New wires a synchronizer over the queue, remote client and connectivity monitor.
func New(queue IntentQueue, client StatusUpdater, monitor *connectivity.Monitor, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		queue:       queue,
		remote:      client,
		monitor:     monitor,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		log:         logger.WithModule("syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the retry cap.
func (s *Synchronizer) MaxAttempts() int {
	return s.maxAttempts
}

// Draining reports whether a pass is in progress.
func (s *Synchronizer) Draining() bool {
	return s.draining.Load()
}

// DrainOnce walks the queue in FIFO order, one remote call per intent.
// A call made while another pass is running returns immediately with Skipped set.
// Replay failures are recorded on the intent and never returned; the only error
// is the context's, when the pass was cut short.
func (s *Synchronizer) DrainOnce(ctx context.Context) (DrainResult, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer s.draining.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	if s.monitor != nil && !s.monitor.IsOnline() {
		return DrainResult{Offline: true}, nil
	}
	if s.token != nil && remote.TokenExpired(s.token(), s.now()) {
		s.log.Warn("bearer token expired, skipping drain")
		return DrainResult{TokenExpired: true}, nil
	}

	start := time.Now()
	defer func() {
		metrics.DrainDuration.Observe(time.Since(start).Seconds())
	}()

	intents, err := s.queue.ListIntents(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return DrainResult{}, ctxErr
		}
		s.log.Error("list pending intents", zap.Error(err))
		return DrainResult{}, nil
	}

	result := DrainResult{Remaining: len(intents)}
	blocked := make(map[string]struct{})

	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			s.finish(result)
			return result, err
		}
		if _, held := blocked[intent.EntityID]; held {
			result.Deferred++
			continue
		}

		result.Attempted++
		callErr := s.remote.UpdateStatus(ctx, intent.EntityID, intent.NewState, intent.IdempotencyKey)
		if callErr == nil {
			metrics.SyncAttempts.WithLabelValues("success", "").Inc()
			s.remove(ctx, intent.ID)
			result.Succeeded++
			result.Remaining--
			continue
		}

		if ctx.Err() != nil && (errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded)) {
			result.Attempted--
			s.finish(result)
			return result, ctx.Err()
		}

		if s.recordFailure(ctx, intent, callErr) {
			result.Abandoned++
			result.Remaining--
			continue
		}
		result.Failed++
		blocked[intent.EntityID] = struct{}{}
	}

	s.finish(result)
	return result, nil
}

// StartPeriodic drains immediately, then on every tick and on every
// offline-to-online transition. The returned func stops the loop, drops the
// connectivity subscription and waits for an in-flight drain to return.
func (s *Synchronizer) StartPeriodic(ctx context.Context, interval time.Duration) context.CancelFunc {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	trigger := make(chan struct{}, 1)

	var sub *connectivity.Subscription
	if s.monitor != nil {
		sub = s.monitor.Subscribe(func(online bool) {
			if !online {
				return
			}
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		s.drain(loopCtx, "startup")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.drain(loopCtx, "interval")
			case <-trigger:
				s.drain(loopCtx, "reconnect")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			cancel()
			<-done
		})
	}
}

func (s *Synchronizer) drain(ctx context.Context, trigger string) {
	result, err := s.DrainOnce(ctx)
	if err != nil {
		s.log.Debug("drain interrupted", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if result.Attempted > 0 {
		s.log.Info("drain finished",
			zap.String("trigger", trigger),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("abandoned", result.Abandoned),
			zap.Int("remaining", result.Remaining),
		)
	}
}

// recordFailure bumps the intent's retry count and reports whether it was dropped.
func (s *Synchronizer) recordFailure(ctx context.Context, intent models.PendingIntent, callErr error) bool {
	reason := remote.Reason(callErr)
	metrics.SyncAttempts.WithLabelValues("failure", reason).Inc()

	attempts := intent.RetryCount + 1
	fields := []zap.Field{
		zap.Uint64("intent_id", intent.ID),
		zap.String("entity_id", intent.EntityID),
		zap.String("new_state", intent.NewState.String()),
		zap.Int("attempts", attempts),
		zap.String("reason", reason),
		zap.Error(callErr),
	}

	if err := s.queue.UpdateIntent(ctx, intent.ID, attempts, callErr.Error()); err != nil {
		s.log.Warn("record intent failure", append(fields, zap.NamedError("update_error", err))...)
	}

	if attempts >= s.maxAttempts {
		s.remove(ctx, intent.ID)
		metrics.IntentsAbandoned.WithLabelValues(reason).Inc()
		s.log.Error("intent abandoned after retry cap", fields...)
		return true
	}

	if reason == remote.ReasonRejected {
		s.log.Warn("intent rejected by remote", fields...)
	} else {
		s.log.Info("intent replay failed", fields...)
	}
	return false
}

func (s *Synchronizer) remove(ctx context.Context, id uint64) {
	if err := s.queue.RemoveIntent(ctx, id); err != nil {
		s.log.Warn("remove intent", zap.Uint64("intent_id", id), zap.Error(err))
	}
}

func (s *Synchronizer) finish(result DrainResult) {
	metrics.QueueDepth.Set(float64(result.Remaining))
	if s.onDrain != nil {
		s.onDrain(result)
	}
}
