package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/syncer"
	"github.com/charlesng35/inspectsync/pkg/response"
)

// IntentStore exposes the pending queue to the agent API.
type IntentStore interface {
	ListIntents(ctx context.Context) ([]models.PendingIntent, error)
	RemoveIntent(ctx context.Context, id uint64) error
}

// Drainer replays the pending queue on demand.
type Drainer interface {
	DrainOnce(ctx context.Context) (syncer.DrainResult, error)
	MaxAttempts() int
}

// IntentHandler lists, discards and replays queued status changes.
type IntentHandler struct {
	queue   IntentStore
	drainer Drainer
}

// NewIntentHandler constructs an intent handler.
func NewIntentHandler(queue IntentStore, drainer Drainer) (*IntentHandler, error) {
	if queue == nil {
		return nil, errors.New("intent handler: queue is required")
	}
	if drainer == nil {
		return nil, errors.New("intent handler: synchronizer is required")
	}
	return &IntentHandler{queue: queue, drainer: drainer}, nil
}

type intentView struct {
	models.PendingIntent
	AttemptsLeft int `json:"attempts_left"`
}

// List handles GET /api/intents.
func (h *IntentHandler) List(c *gin.Context) {
	intents, err := h.queue.ListIntents(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]intentView, 0, len(intents))
	for _, intent := range intents {
		left := h.drainer.MaxAttempts() - intent.RetryCount
		if left < 0 {
			left = 0
		}
		views = append(views, intentView{PendingIntent: intent, AttemptsLeft: left})
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Total: len(views)})
}

// Delete handles DELETE /api/intents/:id. Removing an unknown id succeeds.
func (h *IntentHandler) Delete(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.queue.RemoveIntent(requestContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

// Sync handles POST /api/sync by running one drain pass immediately.
func (h *IntentHandler) Sync(c *gin.Context) {
	result, err := h.drainer.DrainOnce(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
