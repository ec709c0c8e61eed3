package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/inspectsync/internal/app"
	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/handlers"
	"github.com/charlesng35/inspectsync/internal/middleware"
	"github.com/charlesng35/inspectsync/internal/monitoring"
	"github.com/charlesng35/inspectsync/internal/realtime"
)

// Services bundles the core components the agent API exposes.
type Services struct {
	Health  *monitoring.HealthManager
	Reader  handlers.InspectionReader
	Status  handlers.StatusChanger
	Queue   handlers.IntentStore
	Drainer handlers.Drainer
	Monitor *connectivity.Monitor
	// Hub is optional; without it /ws answers 404.
	Hub *realtime.Hub
}

func (s Services) validate() error {
	switch {
	case s.Health == nil:
		return fmt.Errorf("health manager must be provided")
	case s.Reader == nil:
		return fmt.Errorf("reader must be provided")
	case s.Status == nil:
		return fmt.Errorf("status service must be provided")
	case s.Queue == nil:
		return fmt.Errorf("intent queue must be provided")
	case s.Drainer == nil:
		return fmt.Errorf("synchronizer must be provided")
	case s.Monitor == nil:
		return fmt.Errorf("connectivity monitor must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the agent routes.
func NewRouter(svc Services, cfg *app.Config) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := svc.validate(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	if cfg.Monitoring.Prometheus.Enabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	registerHealthRoutes(r, cfg, svc.Health)

	inspectionHandler, err := handlers.NewInspectionHandler(svc.Reader, svc.Status)
	if err != nil {
		return nil, err
	}
	intentHandler, err := handlers.NewIntentHandler(svc.Queue, svc.Drainer)
	if err != nil {
		return nil, err
	}
	connectivityHandler, err := handlers.NewConnectivityHandler(svc.Monitor)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	{
		api.GET("/assignments", inspectionHandler.Assignments)
		api.GET("/inspections", inspectionHandler.List)
		api.GET("/inspections/:id", inspectionHandler.Get)
		api.PATCH("/inspections/:id/status", inspectionHandler.UpdateStatus)
		api.GET("/dashboard/stats", inspectionHandler.DashboardStats)

		api.GET("/intents", intentHandler.List)
		api.DELETE("/intents/:id", intentHandler.Delete)
		api.POST("/sync", intentHandler.Sync)

		api.GET("/connectivity", connectivityHandler.Get)
		api.PUT("/connectivity", connectivityHandler.Set)
	}

	r.GET("/ws", handlers.NewRealtimeHandler(svc.Hub).Stream)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	live := handlers.Live(time.Now())
	r.GET("/health/live", live)
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", live)
		return
	}
	r.GET("/health", handlers.Health(manager))
}
