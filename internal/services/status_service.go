package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/store"
	apperrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/logger"
)

// StatusUpdater applies a status change on the marketplace API.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, state models.InspectionStatus, idempotencyKey string) error
}

// LocalStatusStore is the part of the local store used to queue and mirror status changes.
type LocalStatusStore interface {
	EnqueueIntent(ctx context.Context, entityID string, newState models.InspectionStatus) (uint64, error)
	HasPendingIntent(ctx context.Context, entityID string) (bool, error)
	Get(ctx context.Context, namespace, key string) (store.Record, bool, error)
	Put(ctx context.Context, rec store.Record) error
}

// ChangeResult reports how a status change was handled.
type ChangeResult struct {
	ID       string                  `json:"id"`
	Status   models.InspectionStatus `json:"status"`
	Queued   bool                    `json:"queued"`
	IntentID uint64                  `json:"intent_id,omitempty"`
}

// StatusService is the entry point for user-initiated status changes. Online
// changes go straight to the API; offline ones are queued for the synchronizer.
type StatusService struct {
	remote  StatusUpdater
	local   LocalStatusStore
	monitor *connectivity.Monitor
	log     *zap.Logger
}

// NewStatusService constructs the service once its collaborators are supplied.
func NewStatusService(client StatusUpdater, local LocalStatusStore, monitor *connectivity.Monitor) (*StatusService, error) {
	if client == nil {
		return nil, errors.New("status service: remote client is required")
	}
	if local == nil {
		return nil, errors.New("status service: local store is required")
	}
	if monitor == nil {
		return nil, errors.New("status service: connectivity monitor is required")
	}
	return &StatusService{
		remote:  client,
		local:   local,
		monitor: monitor,
		log:     logger.WithModule("status"),
	}, nil
}

// ChangeStatus moves an inspection to state. A transport failure while
// believed online is treated like being offline and the change is queued.
// While an earlier change for the same inspection is still queued, the new one
// is queued behind it so the synchronizer replays both in order.
// API rejections are returned unchanged.
func (s *StatusService) ChangeStatus(ctx context.Context, id string, state models.InspectionStatus) (ChangeResult, error) {
	ctx = ensuredContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return ChangeResult{}, apperrors.NewBadRequest("inspection id is required")
	}
	if !state.IsValid() {
		return ChangeResult{}, apperrors.NewBadRequest("unknown inspection status")
	}

	result := ChangeResult{ID: id, Status: state}

	direct := s.monitor.IsOnline()
	if direct {
		waiting, err := s.local.HasPendingIntent(ctx, id)
		if err != nil {
			return ChangeResult{}, err
		}
		if waiting {
			s.log.Info("earlier change still queued, queueing behind it",
				zap.String("entity_id", id),
				zap.String("new_state", state.String()),
			)
			direct = false
		}
	}

	if direct {
		err := s.remote.UpdateStatus(ctx, id, state, uuid.NewString())
		switch {
		case err == nil:
			s.mirrorStatus(ctx, id, state)
			return result, nil
		case !remote.IsNetworkError(err):
			return ChangeResult{}, err
		}
		s.log.Warn("status update unreachable, queueing",
			zap.String("entity_id", id),
			zap.String("new_state", state.String()),
			zap.Error(err),
		)
	}

	intentID, err := s.local.EnqueueIntent(ctx, id, state)
	if err != nil {
		return ChangeResult{}, err
	}
	result.Queued = true
	result.IntentID = intentID

	s.mirrorStatus(ctx, id, state)
	return result, nil
}

// mirrorStatus rewrites cached copies so fallback reads reflect the change. Best-effort.
func (s *StatusService) mirrorStatus(ctx context.Context, id string, state models.InspectionStatus) {
	for _, ns := range []string{models.NamespaceInspections, models.NamespaceAssignments} {
		rec, ok, err := s.local.Get(ctx, ns, id)
		if err != nil {
			s.log.Debug("read cached inspection", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		var item models.Inspection
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			s.log.Debug("decode cached inspection", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
			continue
		}
		item.Status = state

		payload, err := json.Marshal(item)
		if err != nil {
			continue
		}
		rec.Status = state.String()
		rec.Payload = payload
		if err := s.local.Put(ctx, rec); err != nil {
			s.log.Debug("update cached inspection", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
		}
	}
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
