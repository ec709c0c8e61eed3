// Package readpath serves inspection data live when possible and from the local
// mirror otherwise. Every successful live read refreshes the mirror in the
// background; those writes are best-effort and never delay or fail the read.
package readpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/internal/cache"
	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/store"
	apperrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/metrics"
)

const defaultWriteTimeout = 5 * time.Second

// Source tells callers where a result came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// Result carries read data plus its provenance.
type Result[T any] struct {
	Data   T
	Source Source
	// CachedAt is the newest write time among the cached rows used. Zero for live results.
	CachedAt time.Time
	// LiveErr is the live failure that caused a cache fallback, if any.
	LiveErr error
}

// Mirror is the local store surface used by the reader.
type Mirror interface {
	ReplaceNamespace(ctx context.Context, namespace string, records []store.Record) error
	Put(ctx context.Context, rec store.Record) error
	Get(ctx context.Context, namespace, key string) (store.Record, bool, error)
	GetAll(ctx context.Context, namespace string) ([]store.Record, error)
	SetEntry(ctx context.Context, name string, value any) error
	Entry(ctx context.Context, name string) (cache.Entry, bool, error)
}

// Option customises a Reader.
type Option func(*Reader)

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Reader) {
		if log != nil {
			r.log = log
		}
	}
}

// WithWriteTimeout bounds each background mirror write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// Reader implements live-first reads with cache fallback.
type Reader struct {
	remote       remote.Client
	mirror       Mirror
	monitor      *connectivity.Monitor
	writeTimeout time.Duration
	log          *zap.Logger

	pending sync.WaitGroup
}

// New builds a Reader.
func New(client remote.Client, mirror Mirror, monitor *connectivity.Monitor, opts ...Option) *Reader {
	r := &Reader{
		remote:       client,
		mirror:       mirror,
		monitor:      monitor,
		writeTimeout: defaultWriteTimeout,
		log:          logger.WithModule("readpath"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until every background mirror write has finished.
func (r *Reader) Wait() {
	r.pending.Wait()
}

// Assignments returns the inspector's assignments.
func (r *Reader) Assignments(ctx context.Context, filter Filter) (Result[[]models.Inspection], error) {
	return r.list(ctx, "assignments", models.NamespaceAssignments, r.remote.ListAssignments, filter)
}

// Inspections returns every visible inspection.
func (r *Reader) Inspections(ctx context.Context, filter Filter) (Result[[]models.Inspection], error) {
	return r.list(ctx, "inspections", models.NamespaceInspections, r.remote.ListInspections, filter)
}

// Inspection returns one inspection by id.
func (r *Reader) Inspection(ctx context.Context, id string) (Result[models.Inspection], error) {
	if id == "" {
		return Result[models.Inspection]{}, apperrors.NewBadRequest("inspection id is required")
	}

	return fetch(ctx, r, "inspection",
		func(ctx context.Context) (models.Inspection, error) {
			return r.remote.GetInspection(ctx, id)
		},
		func(ctx context.Context, item models.Inspection) error {
			rec, err := toRecord(models.NamespaceInspections, item)
			if err != nil {
				return err
			}
			return r.mirror.Put(ctx, rec)
		},
		func(ctx context.Context) (models.Inspection, time.Time, bool, error) {
			for _, ns := range []string{models.NamespaceInspections, models.NamespaceAssignments} {
				rec, ok, err := r.mirror.Get(ctx, ns, id)
				if err != nil {
					return models.Inspection{}, time.Time{}, false, err
				}
				if !ok {
					continue
				}
				var item models.Inspection
				if err := json.Unmarshal(rec.Payload, &item); err != nil {
					return models.Inspection{}, time.Time{}, false, fmt.Errorf("decode cached inspection %q: %w", id, err)
				}
				return item, rec.UpdatedAt, true, nil
			}
			return models.Inspection{}, time.Time{}, false, nil
		},
	)
}

// DashboardStats returns the dashboard aggregate.
func (r *Reader) DashboardStats(ctx context.Context) (Result[models.DashboardStats], error) {
	var raw map[string]any

	return fetch(ctx, r, "dashboard_stats",
		func(ctx context.Context) (models.DashboardStats, error) {
			live, err := r.remote.DashboardStats(ctx)
			if err != nil {
				return models.DashboardStats{}, err
			}
			raw = live
			return DecodeStats(live)
		},
		func(ctx context.Context, _ models.DashboardStats) error {
			return r.mirror.SetEntry(ctx, models.EntryDashboardStats, raw)
		},
		func(ctx context.Context) (models.DashboardStats, time.Time, bool, error) {
			entry, ok, err := r.mirror.Entry(ctx, models.EntryDashboardStats)
			if err != nil || !ok {
				return models.DashboardStats{}, time.Time{}, false, err
			}
			var cached map[string]any
			if err := json.Unmarshal(entry.Value, &cached); err != nil {
				return models.DashboardStats{}, time.Time{}, false, fmt.Errorf("decode cached stats: %w", err)
			}
			stats, err := DecodeStats(cached)
			return stats, entry.UpdatedAt, err == nil, err
		},
	)
}

// DecodeStats maps the loosely typed stats payload onto models.DashboardStats.
func DecodeStats(raw map[string]any) (models.DashboardStats, error) {
	var stats models.DashboardStats
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &stats,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return stats, err
	}
	if err := decoder.Decode(raw); err != nil {
		return stats, fmt.Errorf("decode dashboard stats: %w", err)
	}
	return stats, nil
}

func (r *Reader) list(
	ctx context.Context,
	resource, namespace string,
	live func(context.Context) ([]models.Inspection, error),
	filter Filter,
) (Result[[]models.Inspection], error) {
	result, err := fetch(ctx, r, resource,
		live,
		func(ctx context.Context, items []models.Inspection) error {
			records := make([]store.Record, 0, len(items))
			for _, item := range items {
				if item.ID == "" {
					continue
				}
				rec, err := toRecord(namespace, item)
				if err != nil {
					return err
				}
				records = append(records, rec)
			}
			return r.mirror.ReplaceNamespace(ctx, namespace, records)
		},
		func(ctx context.Context) ([]models.Inspection, time.Time, bool, error) {
			records, err := r.mirror.GetAll(ctx, namespace)
			if err != nil || len(records) == 0 {
				return nil, time.Time{}, false, err
			}

			var newest time.Time
			items := make([]models.Inspection, 0, len(records))
			for _, rec := range records {
				if rec.UpdatedAt.After(newest) {
					newest = rec.UpdatedAt
				}
				if !filter.MatchStatus(rec.Status) {
					continue
				}
				var item models.Inspection
				if err := json.Unmarshal(rec.Payload, &item); err != nil {
					r.log.Warn("skipping undecodable cached record",
						zap.String("namespace", namespace),
						zap.String("key", rec.Key),
						zap.Error(err),
					)
					continue
				}
				items = append(items, item)
			}
			return items, newest, true, nil
		},
	)
	if err != nil {
		return result, err
	}

	result.Data = filter.Apply(result.Data)
	return result, nil
}

// fetch is the shared live-then-cache algorithm. live runs only while the
// monitor reports online; persist runs detached after a live success; cached
// reports ok=false when nothing is mirrored.
func fetch[T any](
	ctx context.Context,
	r *Reader,
	resource string,
	live func(context.Context) (T, error),
	persist func(context.Context, T) error,
	cached func(context.Context) (T, time.Time, bool, error),
) (Result[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var liveErr error
	if r.monitor == nil || r.monitor.IsOnline() {
		data, err := live(ctx)
		if err == nil {
			r.writeBehind(resource, func(ctx context.Context) error { return persist(ctx, data) })
			metrics.Reads.WithLabelValues(resource, string(SourceLive)).Inc()
			return Result[T]{Data: data, Source: SourceLive}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[T]{}, ctxErr
		}
		liveErr = err
		r.log.Debug("live read failed, trying cache", zap.String("resource", resource), zap.Error(err))
	}

	data, cachedAt, ok, err := cached(ctx)
	if err != nil {
		r.log.Warn("cache read failed", zap.String("resource", resource), zap.Error(err))
		ok = false
	}
	if ok {
		metrics.Reads.WithLabelValues(resource, string(SourceCache)).Inc()
		return Result[T]{Data: data, Source: SourceCache, CachedAt: cachedAt, LiveErr: liveErr}, nil
	}

	metrics.Reads.WithLabelValues(resource, "miss").Inc()
	if liveErr != nil {
		return Result[T]{}, liveErr
	}
	return Result[T]{}, apperrors.ErrOffline
}

// writeBehind mirrors live data without blocking the caller. Failures are logged only.
func (r *Reader) writeBehind(resource string, write func(context.Context) error) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("background cache write panicked", zap.String("resource", resource), zap.Any("error", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()

		if err := write(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("background cache write failed", zap.String("resource", resource), zap.Error(err))
		}
	}()
}

func toRecord(namespace string, item models.Inspection) (store.Record, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode inspection %q: %w", item.ID, err)
	}
	return store.Record{
		Namespace: namespace,
		Key:       item.ID,
		Status:    item.Status.String(),
		Payload:   payload,
	}, nil
}
