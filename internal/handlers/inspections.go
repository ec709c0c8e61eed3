package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/readpath"
	"github.com/charlesng35/inspectsync/internal/services"
	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/response"
)

// InspectionReader is the read-path surface used by the handler.
type InspectionReader interface {
	Assignments(ctx context.Context, filter readpath.Filter) (readpath.Result[[]models.Inspection], error)
	Inspections(ctx context.Context, filter readpath.Filter) (readpath.Result[[]models.Inspection], error)
	Inspection(ctx context.Context, id string) (readpath.Result[models.Inspection], error)
	DashboardStats(ctx context.Context) (readpath.Result[models.DashboardStats], error)
}

// StatusChanger applies user-initiated status changes.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, id string, state models.InspectionStatus) (services.ChangeResult, error)
}

// InspectionHandler serves inspection lists, details and status changes.
type InspectionHandler struct {
	reader InspectionReader
	status StatusChanger
}

// NewInspectionHandler constructs an inspection handler.
func NewInspectionHandler(reader InspectionReader, status StatusChanger) (*InspectionHandler, error) {
	if reader == nil {
		return nil, errors.New("inspection handler: reader is required")
	}
	if status == nil {
		return nil, errors.New("inspection handler: status service is required")
	}
	return &InspectionHandler{reader: reader, status: status}, nil
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,inspection_status"`
}

// Assignments handles GET /api/assignments.
func (h *InspectionHandler) Assignments(c *gin.Context) {
	h.list(c, h.reader.Assignments)
}

// List handles GET /api/inspections.
func (h *InspectionHandler) List(c *gin.Context) {
	h.list(c, h.reader.Inspections)
}

func (h *InspectionHandler) list(c *gin.Context, read func(context.Context, readpath.Filter) (readpath.Result[[]models.Inspection], error)) {
	filter, err := parseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := read(requestContext(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	items := result.Data
	if items == nil {
		items = []models.Inspection{}
	}
	meta := response.Sourced(string(result.Source), result.CachedAt)
	meta.Total = len(items)
	response.SuccessWithMeta(c, http.StatusOK, items, meta)
}

// Get handles GET /api/inspections/:id.
func (h *InspectionHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest("id is required"))
		return
	}

	result, err := h.reader.Inspection(requestContext(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, result.Data, response.Sourced(string(result.Source), result.CachedAt))
}

// UpdateStatus handles PATCH /api/inspections/:id/status. A change that was
// queued for later delivery answers 202.
func (h *InspectionHandler) UpdateStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest("id is required"))
		return
	}

	var req updateStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	state, _ := models.ParseInspectionStatus(req.Status)
	result, err := h.status.ChangeStatus(requestContext(c), id, state)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	response.Success(c, status, result)
}

// DashboardStats handles GET /api/dashboard/stats.
func (h *InspectionHandler) DashboardStats(c *gin.Context) {
	result, err := h.reader.DashboardStats(requestContext(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, result.Data, response.Sourced(string(result.Source), result.CachedAt))
}
