package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/internal/api"
	"github.com/charlesng35/inspectsync/internal/app"
	"github.com/charlesng35/inspectsync/internal/connectivity"
	sharedtestutil "github.com/charlesng35/inspectsync/internal/database/testutil"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/monitoring"
	"github.com/charlesng35/inspectsync/internal/monitoring/checks"
	"github.com/charlesng35/inspectsync/internal/readpath"
	"github.com/charlesng35/inspectsync/internal/realtime"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/services"
	"github.com/charlesng35/inspectsync/internal/store"
	"github.com/charlesng35/inspectsync/internal/syncer"
	"github.com/charlesng35/inspectsync/pkg/response"
)

// StatusCall records one UpdateStatus invocation on FakeRemote.
type StatusCall struct {
	ID             string
	State          models.InspectionStatus
	IdempotencyKey string
}

// FakeRemote is a scriptable remote.Client.
type FakeRemote struct {
	mu          sync.Mutex
	Assignments []models.Inspection
	Inspections []models.Inspection
	Stats       map[string]any
	// ReadErr fails every read; UpdateErr fails every status change.
	ReadErr   error
	UpdateErr error
	Calls     []StatusCall
}

var _ remote.Client = (*FakeRemote)(nil)

func (f *FakeRemote) UpdateStatus(_ context.Context, id string, state models.InspectionStatus, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.Calls = append(f.Calls, StatusCall{ID: id, State: state, IdempotencyKey: key})
	return nil
}

func (f *FakeRemote) ListAssignments(context.Context) ([]models.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Assignments, f.ReadErr
}

func (f *FakeRemote) ListInspections(context.Context) ([]models.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Inspections, f.ReadErr
}

func (f *FakeRemote) GetInspection(_ context.Context, id string) (models.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return models.Inspection{}, f.ReadErr
	}
	for _, item := range append(f.Inspections, f.Assignments...) {
		if item.ID == id {
			return item, nil
		}
	}
	return models.Inspection{}, &remote.APIError{StatusCode: http.StatusNotFound, Code: "NOT_FOUND", Message: "inspection not found"}
}

func (f *FakeRemote) DashboardStats(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Stats, f.ReadErr
}

// StatusCalls returns a copy of the recorded status changes.
func (f *FakeRemote) StatusCalls() []StatusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusCall(nil), f.Calls...)
}

// Set applies a mutation under the fake's lock.
func (f *FakeRemote) Set(fn func(*FakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Env encapsulates a fully-wired agent API backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	Router  *gin.Engine
	Store   *store.LocalStore
	Monitor *connectivity.Monitor
	Remote  *FakeRemote
	Reader  *readpath.Reader
	Syncer  *syncer.Synchronizer
	Hub     *realtime.Hub
}

// NewEnv provisions a fresh handler test environment. The agent starts online.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t)
	local := store.New(db)
	require.NoError(t, local.Open(context.Background()))
	t.Cleanup(func() { _ = local.Close() })

	monitor := connectivity.NewMonitor(true)
	fake := &FakeRemote{}
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	reader := readpath.New(fake, local, monitor)
	t.Cleanup(reader.Wait)

	statusSvc, err := services.NewStatusService(fake, local, monitor)
	require.NoError(t, err)

	drainer := syncer.New(local, fake, monitor, syncer.WithDrainHook(realtime.SyncHook(hub)))

	health := monitoring.NewHealthManager(0)
	health.Register(checks.Database(db, 0))
	health.Register(checks.Store(local))
	health.Register(checks.Connectivity(monitor))

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	router, err := api.NewRouter(api.Services{
		Health:  health,
		Reader:  reader,
		Status:  statusSvc,
		Queue:   local,
		Drainer: drainer,
		Monitor: monitor,
		Hub:     hub,
	}, cfg)
	require.NoError(t, err)

	return &Env{
		T:       t,
		Router:  router,
		Store:   local,
		Monitor: monitor,
		Remote:  fake,
		Reader:  reader,
		Syncer:  drainer,
		Hub:     hub,
	}
}

// Seed writes inspections into a mirror namespace.
func (e *Env) Seed(namespace string, items ...models.Inspection) {
	e.T.Helper()

	records := make([]store.Record, 0, len(items))
	for _, item := range items {
		payload, err := json.Marshal(item)
		require.NoError(e.T, err)
		records = append(records, store.Record{
			Namespace: namespace,
			Key:       item.ID,
			Status:    string(item.Status),
			Payload:   payload,
		})
	}
	require.NoError(e.T, e.Store.PutMany(context.Background(), records))
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding automatically.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
