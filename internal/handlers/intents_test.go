package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/internal/handlers/testutil"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/syncer"
)

type intentPayload struct {
	ID           uint64                  `json:"id"`
	EntityID     string                  `json:"entity_id"`
	NewState     models.InspectionStatus `json:"new_state"`
	RetryCount   int                     `json:"retry_count"`
	AttemptsLeft int                     `json:"attempts_left"`
}

func TestIntentListAndDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	first, err := env.Store.EnqueueIntent(ctx, "insp-1", models.StatusScheduled)
	require.NoError(t, err)
	_, err = env.Store.EnqueueIntent(ctx, "insp-1", models.StatusInProgress)
	require.NoError(t, err)

	w := env.Request(http.MethodGet, "/api/intents", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var intents []intentPayload
	resp := testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &intents)
	require.Len(t, intents, 2)
	require.Equal(t, models.StatusScheduled, intents[0].NewState)
	require.Equal(t, models.StatusInProgress, intents[1].NewState)
	require.Equal(t, syncer.DefaultMaxAttempts, intents[0].AttemptsLeft)
	require.Equal(t, 2, resp.Meta.Total)

	w = env.Request(http.MethodDelete, "/api/intents/"+uintString(first), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodDelete, "/api/intents/"+uintString(first), nil)
	require.Equal(t, http.StatusOK, w.Code, "removing a missing intent is a no-op")

	remaining, err := env.Store.ListIntents(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	w = env.Request(http.MethodDelete, "/api/intents/abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncDrainsQueueInOrder(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	_, err := env.Store.EnqueueIntent(ctx, "insp-1", models.StatusScheduled)
	require.NoError(t, err)
	_, err = env.Store.EnqueueIntent(ctx, "insp-1", models.StatusInProgress)
	require.NoError(t, err)

	w := env.Request(http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result syncer.DrainResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.Equal(t, 2, result.Succeeded)
	require.Zero(t, result.Remaining)

	calls := env.Remote.StatusCalls()
	require.Len(t, calls, 2)
	require.Equal(t, models.StatusScheduled, calls[0].State)
	require.Equal(t, models.StatusInProgress, calls[1].State)

	count, err := env.Store.IntentCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSyncWhileOfflineIsNoop(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Monitor.Set(false)

	_, err := env.Store.EnqueueIntent(context.Background(), "insp-1", models.StatusScheduled)
	require.NoError(t, err)

	w := env.Request(http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result syncer.DrainResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.True(t, result.Offline)
	require.Empty(t, env.Remote.StatusCalls())
}

func TestSyncFailureConsumesRetry(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Remote.Set(func(f *testutil.FakeRemote) {
		f.UpdateErr = &remote.NetworkError{Op: "PATCH /inspections/insp-1/status", Err: errors.New("connection reset")}
	})

	_, err := env.Store.EnqueueIntent(context.Background(), "insp-1", models.StatusScheduled)
	require.NoError(t, err)

	w := env.Request(http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/api/intents", nil)
	var intents []intentPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &intents)
	require.Len(t, intents, 1)
	require.Equal(t, 1, intents[0].RetryCount)
	require.Equal(t, syncer.DefaultMaxAttempts-1, intents[0].AttemptsLeft)
}
