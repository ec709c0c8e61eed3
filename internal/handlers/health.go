package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/monitoring"
)

type healthBody struct {
	monitoring.HealthReport
	CheckedAt time.Time `json:"checked_at"`
}

type liveBody struct {
	Success bool                   `json:"success"`
	Status  monitoring.ProbeStatus `json:"status"`
	Uptime  string                 `json:"uptime"`
}

// Health answers GET /health. A degraded report is still 200: reads fall back
// to the mirror and writes queue. Only a failing critical probe gives 503.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))

		code := http.StatusOK
		if !report.Success {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, healthBody{HealthReport: report, CheckedAt: time.Now().UTC()})
	}
}

// Live answers GET /health/live without probing dependencies.
func Live(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, liveBody{
			Success: true,
			Status:  monitoring.StatusUp,
			Uptime:  time.Since(startedAt).Truncate(time.Second).String(),
		})
	}
}
