package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/response"
)

func TestFallbackHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.ErrorLevel)
	previous := logger.Logger()
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(previous) })

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(RequestID(), Recovery())
	r.NoRoute(NotFoundHandler)
	r.NoMethod(MethodNotAllowedHandler)
	r.GET("/api/connectivity", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/sync", func(*gin.Context) { panic("queue corrupted") })

	cases := []struct {
		name    string
		method  string
		path    string
		status  int
		code    string
		message string
	}{
		{"panic", http.MethodPost, "/api/sync", http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error"},
		{"unknown route", http.MethodGet, "/api/nowhere", http.StatusNotFound, "NOT_FOUND", "route /api/nowhere not found"},
		{"wrong verb", http.MethodDelete, "/api/connectivity", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))

			require.Equal(t, tc.status, w.Code)
			var payload response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
			require.False(t, payload.Success)
			require.Equal(t, tc.code, payload.Error.Code)
			require.Equal(t, tc.message, payload.Error.Message)
		})
	}

	panics := logs.FilterMessage("handler panic").All()
	require.Len(t, panics, 1)
	require.Equal(t, "queue corrupted", panics[0].ContextMap()["panic"])
	require.Equal(t, "/api/sync", panics[0].ContextMap()["route"])
}
