package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/store"
)

type call struct {
	ID             string
	State          models.InspectionStatus
	IdempotencyKey string
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []call
	fail  func(call) error

	// block, when set, is closed by the test to release UpdateStatus.
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRemote) UpdateStatus(ctx context.Context, id string, state models.InspectionStatus, key string) error {
	c := call{ID: id, State: state, IdempotencyKey: key}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	block, started, fail := f.block, f.started, f.fail
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (f *fakeRemote) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func newQueue(t *testing.T) *store.LocalStore {
	t.Helper()
	s := store.New(nil)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func enqueue(t *testing.T, s *store.LocalStore, id string, state models.InspectionStatus) uint64 {
	t.Helper()
	intentID, err := s.EnqueueIntent(context.Background(), id, state)
	require.NoError(t, err)
	return intentID
}

func pending(t *testing.T, s *store.LocalStore) []models.PendingIntent {
	t.Helper()
	intents, err := s.ListIntents(context.Background())
	require.NoError(t, err)
	return intents
}

func TestDrainReplaysInInsertionOrder(t *testing.T) {
	queue := newQueue(t)
	monitor := connectivity.NewMonitor(false)
	api := &fakeRemote{}
	drainer := New(queue, api, monitor)

	want := make([]call, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("insp-%d", i)
		enqueue(t, queue, id, models.StatusScheduled)
		want = append(want, call{ID: id, State: models.StatusScheduled})
	}

	monitor.Set(true)
	result, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, result.Succeeded)
	require.Zero(t, result.Remaining)

	got := api.Calls()
	require.Len(t, got, 5)
	for i := range want {
		require.Equal(t, want[i].ID, got[i].ID)
		require.Equal(t, want[i].State, got[i].State)
		require.NotEmpty(t, got[i].IdempotencyKey)
	}
	require.Empty(t, pending(t, queue))
}

func TestDrainIsNoOpWhileOffline(t *testing.T) {
	queue := newQueue(t)
	api := &fakeRemote{}
	drainer := New(queue, api, connectivity.NewMonitor(false))
	enqueue(t, queue, "insp-1", models.StatusScheduled)

	result, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.True(t, result.Offline)
	require.False(t, result.Ran())
	require.Empty(t, api.Calls())
	require.Len(t, pending(t, queue), 1)
}

func TestAlwaysFailingIntentIsAbandonedAfterThreeAttempts(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	queue := newQueue(t)
	api := &fakeRemote{fail: func(call) error {
		return &remote.NetworkError{Op: "PATCH", Err: errors.New("connection refused")}
	}}
	drainer := New(queue, api, connectivity.NewMonitor(true), WithLogger(zap.New(core)))
	enqueue(t, queue, "insp-1", models.StatusScheduled)

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := drainer.DrainOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)

		intents := pending(t, queue)
		require.Len(t, intents, 1)
		require.Equal(t, attempt, intents[0].RetryCount)
		require.Contains(t, intents[0].LastError, "connection refused")
	}

	result, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Abandoned)
	require.Empty(t, pending(t, queue))
	require.Len(t, api.Calls(), 3)

	result, err = drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Attempted)
	require.Len(t, api.Calls(), 3)

	abandoned := recorded.FilterMessage("intent abandoned after retry cap")
	require.Equal(t, 1, abandoned.Len())
	require.Equal(t, zapcore.ErrorLevel, abandoned.All()[0].Level)
}

func TestRejectedIntentStillConsumesRetrySlot(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	queue := newQueue(t)
	api := &fakeRemote{fail: func(call) error {
		return &remote.APIError{StatusCode: http.StatusUnprocessableEntity, Code: "INVALID_TRANSITION"}
	}}
	drainer := New(queue, api, connectivity.NewMonitor(true), WithLogger(zap.New(core)))
	enqueue(t, queue, "insp-1", models.StatusCompleted)

	_, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)

	intents := pending(t, queue)
	require.Len(t, intents, 1)
	require.Equal(t, 1, intents[0].RetryCount)

	rejected := recorded.FilterMessage("intent rejected by remote").All()
	require.Len(t, rejected, 1)
	require.Equal(t, remote.ReasonRejected, rejected[0].ContextMap()["reason"])
}

func TestConcurrentDrainDoesNotDoubleSubmit(t *testing.T) {
	queue := newQueue(t)
	api := &fakeRemote{block: make(chan struct{}), started: make(chan struct{}, 1)}
	drainer := New(queue, api, connectivity.NewMonitor(true))
	enqueue(t, queue, "insp-1", models.StatusScheduled)
	enqueue(t, queue, "insp-2", models.StatusInProgress)

	type outcome struct {
		result DrainResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := drainer.DrainOnce(context.Background())
		first <- outcome{result, err}
	}()

	<-api.started
	require.True(t, drainer.Draining())

	second, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.True(t, second.Skipped)

	close(api.block)
	out := <-first
	require.NoError(t, out.err)
	require.Equal(t, 2, out.result.Succeeded)

	require.Len(t, api.Calls(), 2)
	require.Empty(t, pending(t, queue))
	require.False(t, drainer.Draining())
}

func TestIntentsForOneEntityReplayInOrder(t *testing.T) {
	queue := newQueue(t)
	api := &fakeRemote{}
	drainer := New(queue, api, connectivity.NewMonitor(true))
	enqueue(t, queue, "insp-1", models.StatusScheduled)
	enqueue(t, queue, "insp-1", models.StatusInProgress)

	_, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, models.StatusScheduled, calls[0].State)
	require.Equal(t, models.StatusInProgress, calls[1].State)
}

func TestFailedIntentHoldsBackLaterIntentsForSameEntity(t *testing.T) {
	queue := newQueue(t)
	api := &fakeRemote{fail: func(c call) error {
		if c.ID == "insp-1" && c.State == models.StatusScheduled {
			return &remote.APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	}}
	drainer := New(queue, api, connectivity.NewMonitor(true))
	enqueue(t, queue, "insp-1", models.StatusScheduled)
	enqueue(t, queue, "insp-1", models.StatusInProgress)
	enqueue(t, queue, "insp-2", models.StatusScheduled)

	result, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Deferred)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 2, result.Remaining)

	calls := api.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "insp-1", calls[0].ID)
	require.Equal(t, "insp-2", calls[1].ID)

	intents := pending(t, queue)
	require.Len(t, intents, 2)
	require.Equal(t, 1, intents[0].RetryCount)
	require.Zero(t, intents[1].RetryCount)
}

func TestCanceledDrainDoesNotConsumeRetries(t *testing.T) {
	queue := newQueue(t)
	api := &fakeRemote{block: make(chan struct{}), started: make(chan struct{}, 1)}
	drainer := New(queue, api, connectivity.NewMonitor(true))
	enqueue(t, queue, "insp-1", models.StatusScheduled)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := drainer.DrainOnce(ctx)
		errs <- err
	}()

	<-api.started
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	intents := pending(t, queue)
	require.Len(t, intents, 1)
	require.Zero(t, intents[0].RetryCount)
}

func TestExpiredTokenSkipsDrain(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	queue := newQueue(t)
	api := &fakeRemote{}
	drainer := New(queue, api, connectivity.NewMonitor(true),
		WithTokenSource(func() string { return token }),
		WithClock(func() time.Time { return now }),
	)
	enqueue(t, queue, "insp-1", models.StatusScheduled)

	result, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.True(t, result.TokenExpired)
	require.Empty(t, api.Calls())
	require.Zero(t, pending(t, queue)[0].RetryCount)
}

func TestPeriodicSyncDrainsOnReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := newQueue(t)
	monitor := connectivity.NewMonitor(false)
	api := &fakeRemote{}

	drained := make(chan DrainResult, 4)
	drainer := New(queue, api, monitor, WithDrainHook(func(r DrainResult) {
		if r.Ran() {
			drained <- r
		}
	}))
	enqueue(t, queue, "insp-1", models.StatusScheduled)

	stop := drainer.StartPeriodic(context.Background(), time.Hour)
	defer stop()

	monitor.Set(true)

	select {
	case result := <-drained:
		require.Equal(t, 1, result.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not trigger a drain")
	}

	stop()
	stop()

	calls := api.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "insp-1", calls[0].ID)
	require.Equal(t, models.StatusScheduled, calls[0].State)
	require.Empty(t, pending(t, queue))
	require.Zero(t, monitor.SubscriberCount())
}

func TestPeriodicSyncTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := newQueue(t)
	api := &fakeRemote{}
	drained := make(chan struct{}, 8)
	drainer := New(queue, api, connectivity.NewMonitor(true), WithDrainHook(func(DrainResult) {
		select {
		case drained <- struct{}{}:
		default:
		}
	}))

	stop := drainer.StartPeriodic(context.Background(), 5*time.Millisecond)
	for i := 0; i < 3; i++ {
		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic drain did not run")
		}
	}
	stop()
}
