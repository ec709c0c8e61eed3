package readpath

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/store"
	apperrors "github.com/charlesng35/inspectsync/pkg/errors"
)

type stubRemote struct {
	assignments []models.Inspection
	inspections []models.Inspection
	stats       map[string]any
	err         error
	calls       int
}

func (s *stubRemote) UpdateStatus(context.Context, string, models.InspectionStatus, string) error {
	return errors.New("not used")
}

func (s *stubRemote) ListAssignments(context.Context) ([]models.Inspection, error) {
	s.calls++
	return s.assignments, s.err
}

func (s *stubRemote) ListInspections(context.Context) ([]models.Inspection, error) {
	s.calls++
	return s.inspections, s.err
}

func (s *stubRemote) GetInspection(_ context.Context, id string) (models.Inspection, error) {
	s.calls++
	if s.err != nil {
		return models.Inspection{}, s.err
	}
	for _, item := range s.inspections {
		if item.ID == id {
			return item, nil
		}
	}
	return models.Inspection{}, &remote.APIError{StatusCode: http.StatusNotFound}
}

func (s *stubRemote) DashboardStats(context.Context) (map[string]any, error) {
	s.calls++
	return s.stats, s.err
}

var errUnreachable = &remote.NetworkError{Op: "GET /inspector/assignments", Err: errors.New("no route to host")}

func newMirror(t *testing.T) *store.LocalStore {
	t.Helper()
	s := store.New(nil)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func seedAssignments(t *testing.T, mirror *store.LocalStore, items []models.Inspection) {
	t.Helper()
	records := make([]store.Record, 0, len(items))
	for _, item := range items {
		rec, err := toRecord(models.NamespaceAssignments, item)
		require.NoError(t, err)
		records = append(records, rec)
	}
	require.NoError(t, mirror.PutMany(context.Background(), records))
}

func fiveAssignments() []models.Inspection {
	statuses := []models.InspectionStatus{
		models.StatusAssigned, models.StatusScheduled, models.StatusAssigned,
		models.StatusInProgress, models.StatusCompleted,
	}
	items := make([]models.Inspection, 0, len(statuses))
	for i, status := range statuses {
		items = append(items, models.Inspection{
			ID:           fmt.Sprintf("insp-%d", i+1),
			Status:       status,
			VehiclePlate: fmt.Sprintf("B %d XYZ", 1000+i),
			CustomerName: []string{"Ayu", "Budi", "Citra", "Dewi", "Eko"}[i],
			PackageName:  "Standard",
		})
	}
	return items
}

func TestLiveFailureFallsBackToFiveCachedRecords(t *testing.T) {
	mirror := newMirror(t)
	seedAssignments(t, mirror, fiveAssignments())

	api := &stubRemote{err: errUnreachable}
	reader := New(api, mirror, connectivity.NewMonitor(true))

	result, err := reader.Assignments(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, SourceCache, result.Source)
	require.Len(t, result.Data, 5)
	require.ErrorIs(t, result.LiveErr, errUnreachable)
	require.False(t, result.CachedAt.IsZero())
	require.Equal(t, 1, api.calls)

	filtered, err := reader.Assignments(context.Background(), Filter{Statuses: []models.InspectionStatus{models.StatusAssigned}})
	require.NoError(t, err)
	require.Len(t, filtered.Data, 2)
	for _, item := range filtered.Data {
		require.Equal(t, models.StatusAssigned, item.Status)
	}
}

func TestOfflineReadsSkipLiveCall(t *testing.T) {
	mirror := newMirror(t)
	seedAssignments(t, mirror, fiveAssignments())

	api := &stubRemote{}
	reader := New(api, mirror, connectivity.NewMonitor(false))

	result, err := reader.Assignments(context.Background(), Filter{Search: "budi"})
	require.NoError(t, err)
	require.Equal(t, SourceCache, result.Source)
	require.Len(t, result.Data, 1)
	require.Equal(t, "insp-2", result.Data[0].ID)
	require.Zero(t, api.calls)
	require.NoError(t, result.LiveErr)
}

func TestFilteredToEmptyIsValid(t *testing.T) {
	mirror := newMirror(t)
	seedAssignments(t, mirror, fiveAssignments())
	reader := New(&stubRemote{}, mirror, connectivity.NewMonitor(false))

	result, err := reader.Assignments(context.Background(), Filter{Statuses: []models.InspectionStatus{models.StatusCancelled}})
	require.NoError(t, err)
	require.Equal(t, SourceCache, result.Source)
	require.Empty(t, result.Data)
}

func TestNoCacheReturnsLiveError(t *testing.T) {
	reader := New(&stubRemote{err: errUnreachable}, newMirror(t), connectivity.NewMonitor(true))

	_, err := reader.Assignments(context.Background(), Filter{})
	require.ErrorIs(t, err, errUnreachable)
}

func TestNoCacheWhileOfflineReturnsErrOffline(t *testing.T) {
	reader := New(&stubRemote{}, newMirror(t), connectivity.NewMonitor(false))

	_, err := reader.Inspections(context.Background(), Filter{})
	require.ErrorIs(t, err, apperrors.ErrOffline)

	_, err = reader.DashboardStats(context.Background())
	require.ErrorIs(t, err, apperrors.ErrOffline)
}

func TestLiveSuccessRefreshesMirror(t *testing.T) {
	mirror := newMirror(t)
	seedAssignments(t, mirror, []models.Inspection{{ID: "stale", Status: models.StatusAssigned}})

	monitor := connectivity.NewMonitor(true)
	api := &stubRemote{assignments: fiveAssignments()}
	reader := New(api, mirror, monitor)

	result, err := reader.Assignments(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, SourceLive, result.Source)
	require.Len(t, result.Data, 5)

	reader.Wait()

	monitor.Set(false)
	cached, err := reader.Assignments(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, SourceCache, cached.Source)
	require.Len(t, cached.Data, 5)
	for _, item := range cached.Data {
		require.NotEqual(t, "stale", item.ID)
	}
}

func TestLiveResultsAreFiltered(t *testing.T) {
	items := fiveAssignments()
	items[0].InspectorID = "ins-7"
	reader := New(&stubRemote{assignments: items}, newMirror(t), connectivity.NewMonitor(true))

	result, err := reader.Assignments(context.Background(), Filter{InspectorID: "ins-7"})
	require.NoError(t, err)
	require.Equal(t, SourceLive, result.Source)
	require.Len(t, result.Data, 1)
	reader.Wait()
}

type failingMirror struct {
	*store.LocalStore
}

func (failingMirror) ReplaceNamespace(context.Context, string, []store.Record) error {
	return errors.New("disk full")
}

func TestBackgroundWriteFailureIsLoggedNotReturned(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	mirror := failingMirror{LocalStore: newMirror(t)}
	reader := New(&stubRemote{assignments: fiveAssignments()}, mirror, connectivity.NewMonitor(true), WithLogger(zap.New(core)))

	result, err := reader.Assignments(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, result.Data, 5)

	reader.Wait()
	require.Equal(t, 1, recorded.FilterMessage("background cache write failed").Len())
}

func TestInspectionFallsBackAcrossNamespaces(t *testing.T) {
	mirror := newMirror(t)
	seedAssignments(t, mirror, fiveAssignments())
	reader := New(&stubRemote{err: errUnreachable}, mirror, connectivity.NewMonitor(true))

	result, err := reader.Inspection(context.Background(), "insp-3")
	require.NoError(t, err)
	require.Equal(t, SourceCache, result.Source)
	require.Equal(t, "Citra", result.Data.CustomerName)

	_, err = reader.Inspection(context.Background(), "insp-404")
	require.ErrorIs(t, err, errUnreachable)

	_, err = reader.Inspection(context.Background(), "")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestDashboardStatsRoundTrip(t *testing.T) {
	mirror := newMirror(t)
	monitor := connectivity.NewMonitor(true)
	api := &stubRemote{stats: map[string]any{
		"total_inspections": float64(12),
		"by_status":         map[string]any{"completed": float64(9), "scheduled": float64(3)},
		"pending_earnings":  450000.5,
		"average_rating":    "4.8",
	}}
	reader := New(api, mirror, monitor)

	live, err := reader.DashboardStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceLive, live.Source)
	require.Equal(t, 12, live.Data.TotalInspections)
	require.Equal(t, 9, live.Data.ByStatus["completed"])
	require.InDelta(t, 4.8, live.Data.AverageRating, 0.001)
	reader.Wait()

	monitor.Set(false)
	cached, err := reader.DashboardStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceCache, cached.Source)
	require.Equal(t, live.Data, cached.Data)
}

func TestFilterMatch(t *testing.T) {
	item := models.Inspection{
		ID:           "insp-1",
		Status:       models.StatusScheduled,
		VehiclePlate: "B 1234 XYZ",
		CustomerName: "Ayu Lestari",
		PackageName:  "Premium",
		InspectorID:  "ins-1",
	}

	require.True(t, Filter{}.Match(item))
	require.True(t, Filter{}.Empty())
	require.True(t, Filter{Search: "premium"}.Match(item))
	require.True(t, Filter{Search: "1234"}.Match(item))
	require.False(t, Filter{Search: "budi"}.Match(item))
	require.False(t, Filter{InspectorID: "ins-2"}.Match(item))
	require.True(t, Filter{Statuses: []models.InspectionStatus{models.StatusAssigned, models.StatusScheduled}}.Match(item))
	require.False(t, Filter{Statuses: []models.InspectionStatus{models.StatusCompleted}}.Match(item))
}

var _ Mirror = (*store.LocalStore)(nil)
