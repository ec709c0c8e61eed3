package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
)

func record(t *testing.T, write func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	write(ctx)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestSuccessEnvelope(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) {
		Success(c, http.StatusAccepted, gin.H{"queued": true})
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
	require.Nil(t, resp.Meta)
	require.Empty(t, rec.Header().Get(HeaderDataSource))
}

func TestCachedReadCarriesProvenance(t *testing.T) {
	cachedAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	rec, resp := record(t, func(c *gin.Context) {
		meta := Sourced("cache", cachedAt)
		meta.Total = 2
		SuccessWithMeta(c, http.StatusOK, []string{"a", "b"}, meta)
	})

	require.NotNil(t, resp.Meta)
	require.Equal(t, 2, resp.Meta.Total)
	require.True(t, resp.Meta.Stale)
	require.True(t, cachedAt.Equal(*resp.Meta.CachedAt))
	require.Equal(t, "cache", rec.Header().Get(HeaderDataSource))
	require.Equal(t, "2024-03-01T08:30:00Z", rec.Header().Get(HeaderCachedAt))
}

func TestLiveReadIsFresh(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) {
		SuccessWithMeta(c, http.StatusOK, gin.H{}, Sourced("live", time.Time{}))
	})

	require.False(t, resp.Meta.Stale)
	require.Nil(t, resp.Meta.CachedAt)
	require.Equal(t, "live", rec.Header().Get(HeaderDataSource))
	require.Empty(t, rec.Header().Get(HeaderCachedAt))
}

func TestErrorEnvelope(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) {
		Error(c, appErrors.ErrNoCachedData)
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, resp.Success)
	require.Equal(t, appErrors.ErrNoCachedData.Code, resp.Error.Code)

	rec, resp = record(t, func(c *gin.Context) {
		Error(c, errors.New("disk on fire"))
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, resp.Error.Message, "disk on fire")
}
