package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/internal/handlers/testutil"
)

type healthPayload struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	CheckedAt string `json:"checked_at"`
	Checks    []struct {
		Component string `json:"component"`
		Status    string `json:"status"`
	} `json:"checks"`
}

func TestHealthReportsDegradedWhenOffline(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report healthPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.True(t, report.Success)
	require.Equal(t, "up", report.Status)
	require.Len(t, report.Checks, 3)
	require.NotEmpty(t, report.CheckedAt)

	env.Monitor.Set(false)

	w = env.Request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Equal(t, "degraded", report.Status)
}

func TestLiveness(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var live struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &live))
	require.Equal(t, "up", live.Status)
	require.NotEmpty(t, live.Uptime)
}
