package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/pkg/response"
)

// ConnectivityHandler exposes and overrides the online heuristic.
type ConnectivityHandler struct {
	monitor *connectivity.Monitor
}

// NewConnectivityHandler constructs a connectivity handler.
func NewConnectivityHandler(monitor *connectivity.Monitor) (*ConnectivityHandler, error) {
	if monitor == nil {
		return nil, errors.New("connectivity handler: monitor is required")
	}
	return &ConnectivityHandler{monitor: monitor}, nil
}

type setConnectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// Get handles GET /api/connectivity.
func (h *ConnectivityHandler) Get(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"online": h.monitor.IsOnline()})
}

// Set handles PUT /api/connectivity. The prober may flip the state back on its next probe.
func (h *ConnectivityHandler) Set(c *gin.Context) {
	var req setConnectivityRequest
	if !bindAndValidate(c, &req) {
		return
	}

	h.monitor.Set(*req.Online)
	response.Success(c, http.StatusOK, gin.H{"online": h.monitor.IsOnline()})
}
