// Package store implements the agent's local persistence: a mirror of remote
// records, the FIFO queue of pending status-change intents and small aggregate
// caches. The SQL database is the primary backend. When it fails, the store logs
// the failure once and keeps serving from memory for the rest of the session.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inspectsync/internal/cache"
	"github.com/charlesng35/inspectsync/internal/database"
	"github.com/charlesng35/inspectsync/internal/models"
	apperrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/metrics"
)

const snapshotTimeout = 2 * time.Second

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store: closed")

// Record is a cached snapshot of a remote entity.
type Record struct {
	Namespace string
	Key       string
	// Status is copied out of the payload so cached reads can filter without decoding.
	Status    string
	Payload   []byte
	UpdatedAt time.Time
}

// PurgeStats reports what a housekeeping sweep removed.
type PurgeStats struct {
	Records int64
	Entries int64
}

// Option customises the LocalStore.
type Option func(*LocalStore)

// WithEntryStore sets the aggregate cache backend. Defaults to the database when
// one is supplied, memory otherwise.
func WithEntryStore(entries cache.Store) Option {
	return func(s *LocalStore) {
		if entries != nil {
			s.entries = entries
		}
	}
}

// WithClock overrides the clock used to stamp records and intents.
func WithClock(now func() time.Time) Option {
	return func(s *LocalStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *LocalStore) {
		if log != nil {
			s.log = log
		}
	}
}

// LocalStore is the explicitly constructed local persistence service.
type LocalStore struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger

	mu      sync.RWMutex
	active  backend
	entries cache.Store
	opened  bool
	closed  bool

	degraded        atomic.Bool
	entriesDegraded atomic.Bool
	lastIntentID    atomic.Uint64
}

// New constructs a LocalStore. A nil db yields a memory-only store.
func New(db *gorm.DB, opts ...Option) *LocalStore {
	s := &LocalStore{
		db:  db,
		now: time.Now,
		log: logger.WithModule("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if db != nil {
		s.active = &sqlBackend{db: db}
		if s.entries == nil {
			s.entries = cache.NewDatabaseStore(db, cache.WithClock(s.now))
		}
	} else {
		s.active = newMemoryBackend(0)
	}
	if s.entries == nil {
		s.entries = cache.NewMemoryStore(cache.WithClock(s.now))
	}

	return s
}

// Open prepares the schema. A migration failure degrades the store instead of failing start-up.
func (s *LocalStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return nil
	}
	s.opened = true

	if s.db == nil {
		return nil
	}
	if err := database.AutoMigrate(s.db.WithContext(ensuredContext(ctx))); err != nil {
		s.degradeLocked("open", err)
		return nil
	}

	var last models.PendingIntent
	if err := s.db.WithContext(ensuredContext(ctx)).Order("id DESC").Limit(1).Find(&last).Error; err == nil {
		s.lastIntentID.Store(last.ID)
	}
	return nil
}

// Close stops the store from accepting further operations. The database handle
// stays owned by the caller.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Degraded reports whether any part of the store fell back to memory.
func (s *LocalStore) Degraded() bool {
	return s.degraded.Load() || s.entriesDegraded.Load()
}

// Persistent reports whether records and intents are currently written to the database.
func (s *LocalStore) Persistent() bool {
	return s.db != nil && !s.degraded.Load()
}

// Put inserts or replaces a record by namespace and key.
func (s *LocalStore) Put(ctx context.Context, rec Record) error {
	return s.PutMany(ctx, []Record{rec})
}

// PutMany inserts or replaces several records, stamping each with the current time.
func (s *LocalStore) PutMany(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	stamped, err := s.stamp(records)
	if err != nil {
		return err
	}

	return s.run(ctx, "put records", func(b backend) error {
		return b.putRecords(ensuredContext(ctx), stamped)
	})
}

func (s *LocalStore) stamp(records []Record) ([]Record, error) {
	now := s.now().UTC()
	stamped := make([]Record, 0, len(records))
	for _, rec := range records {
		rec.Namespace = strings.TrimSpace(rec.Namespace)
		rec.Key = strings.TrimSpace(rec.Key)
		if rec.Namespace == "" || rec.Key == "" {
			return nil, apperrors.NewBadRequest("record namespace and key are required")
		}
		rec.UpdatedAt = now
		stamped = append(stamped, rec)
	}
	return stamped, nil
}

// ReplaceNamespace swaps the full contents of a namespace for records, so a
// fresh list snapshot drops entries the remote no longer returns.
func (s *LocalStore) ReplaceNamespace(ctx context.Context, namespace string, records []Record) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return apperrors.NewBadRequest("record namespace is required")
	}

	stamped, err := s.stamp(records)
	if err != nil {
		return err
	}
	for i := range stamped {
		if stamped[i].Namespace != namespace {
			return apperrors.NewBadRequest(fmt.Sprintf("record %q is not in namespace %q", stamped[i].Key, namespace))
		}
	}

	return s.run(ctx, "replace records", func(b backend) error {
		return b.replaceRecords(ensuredContext(ctx), namespace, stamped)
	})
}

// Get returns the cached record, if any.
func (s *LocalStore) Get(ctx context.Context, namespace, key string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := s.run(ctx, "get record", func(b backend) error {
		var err error
		rec, ok, err = b.getRecord(ensuredContext(ctx), namespace, key)
		return err
	})
	return rec, ok, err
}

// GetAll returns a full snapshot of a namespace ordered by key.
func (s *LocalStore) GetAll(ctx context.Context, namespace string) ([]Record, error) {
	var out []Record
	err := s.run(ctx, "list records", func(b backend) error {
		var err error
		out, err = b.allRecords(ensuredContext(ctx), namespace)
		return err
	})
	return out, err
}

// EnqueueIntent appends a pending status change and returns its identifier.
// Duplicate entity ids are accepted and replay in insertion order.
func (s *LocalStore) EnqueueIntent(ctx context.Context, entityID string, newState models.InspectionStatus) (uint64, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return 0, apperrors.NewBadRequest("entity id is required")
	}
	if !newState.IsValid() {
		return 0, apperrors.NewBadRequest(fmt.Sprintf("unknown inspection status %q", newState))
	}

	now := s.now().UTC()
	var id uint64
	err := s.run(ctx, "enqueue intent", func(b backend) error {
		intent := &models.PendingIntent{
			EntityID:  entityID,
			NewState:  newState,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := b.insertIntent(ensuredContext(ctx), intent); err != nil {
			return err
		}
		id = intent.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.bumpLastIntentID(id)
	metrics.IntentsEnqueued.Inc()
	s.log.Info("intent queued",
		zap.Uint64("intent_id", id),
		zap.String("entity_id", entityID),
		zap.String("new_state", newState.String()),
	)
	return id, nil
}

// ListIntents returns every pending intent in FIFO order.
func (s *LocalStore) ListIntents(ctx context.Context) ([]models.PendingIntent, error) {
	var out []models.PendingIntent
	err := s.run(ctx, "list intents", func(b backend) error {
		var err error
		out, err = b.listIntents(ensuredContext(ctx))
		return err
	})
	return out, err
}

// RemoveIntent deletes an intent. Removing a missing id is a no-op.
func (s *LocalStore) RemoveIntent(ctx context.Context, id uint64) error {
	return s.run(ctx, "remove intent", func(b backend) error {
		return b.deleteIntent(ensuredContext(ctx), id)
	})
}

// UpdateIntent records a failed attempt. The retry count may never decrease.
func (s *LocalStore) UpdateIntent(ctx context.Context, id uint64, retryCount int, lastError string) error {
	if retryCount < 0 {
		return apperrors.NewBadRequest("retry count must not be negative")
	}
	now := s.now().UTC()
	return s.run(ctx, "update intent", func(b backend) error {
		return b.updateIntent(ensuredContext(ctx), id, retryCount, lastError, now)
	})
}

// IntentCount returns the number of pending intents.
func (s *LocalStore) IntentCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.run(ctx, "count intents", func(b backend) error {
		var err error
		count, err = b.countIntents(ensuredContext(ctx))
		return err
	})
	return count, err
}

// HasPendingIntent reports whether any intent for entityID is still queued.
func (s *LocalStore) HasPendingIntent(ctx context.Context, entityID string) (bool, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return false, nil
	}

	var count int64
	err := s.run(ctx, "count entity intents", func(b backend) error {
		var err error
		count, err = b.countEntityIntents(ensuredContext(ctx), entityID)
		return err
	})
	return count > 0, err
}

// PurgeOlderThan removes cached records and aggregate entries last written more
// than age ago. Pending intents are never purged.
func (s *LocalStore) PurgeOlderThan(ctx context.Context, age time.Duration) (PurgeStats, error) {
	if age <= 0 {
		return PurgeStats{}, apperrors.NewBadRequest("purge age must be positive")
	}
	cutoff := s.now().UTC().Add(-age)

	var stats PurgeStats
	err := s.run(ctx, "purge records", func(b backend) error {
		var err error
		stats.Records, err = b.purgeRecords(ensuredContext(ctx), cutoff)
		return err
	})
	if err != nil {
		return stats, err
	}

	err = s.runEntries(ctx, "purge entries", func(entries cache.Store) error {
		var err error
		stats.Entries, err = entries.PurgeOlderThan(ensuredContext(ctx), cutoff)
		return err
	})
	return stats, err
}

// SetEntry replaces an aggregate cache slot with the JSON encoding of value.
func (s *LocalStore) SetEntry(ctx context.Context, name string, value any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewBadRequest("cache entry name is required")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode entry %q: %w", name, err)
	}
	return s.runEntries(ctx, "set entry", func(entries cache.Store) error {
		return entries.Set(ensuredContext(ctx), name, payload)
	})
}

// Entry reads an aggregate cache slot.
func (s *LocalStore) Entry(ctx context.Context, name string) (cache.Entry, bool, error) {
	var (
		entry cache.Entry
		ok    bool
	)
	err := s.runEntries(ctx, "get entry", func(entries cache.Store) error {
		var err error
		entry, ok, err = entries.Get(ensuredContext(ctx), name)
		return err
	})
	return entry, ok, err
}

// run executes fn against the active backend. A persistence failure switches the
// store to memory and retries fn there, so callers never see it.
func (s *LocalStore) run(ctx context.Context, op string, fn func(backend) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	active := s.active
	s.mu.RUnlock()

	err := fn(active)
	if err == nil || isCallerError(err) {
		return err
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if s.active == active {
		if _, alreadyMemory := active.(*memoryBackend); alreadyMemory {
			s.mu.Unlock()
			return err
		}
		s.degradeLocked(op, err)
	}
	fallback := s.active
	s.mu.Unlock()

	return fn(fallback)
}

func (s *LocalStore) runEntries(ctx context.Context, op string, fn func(cache.Store) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	entries := s.entries
	s.mu.RUnlock()

	err := fn(entries)
	if err == nil || isCallerError(err) {
		return err
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if s.entries == entries {
		if _, alreadyMemory := entries.(*cache.MemoryStore); alreadyMemory {
			s.mu.Unlock()
			return err
		}
		s.entries = cache.NewMemoryStore(cache.WithClock(s.now))
		s.entriesDegraded.Store(true)
		metrics.PersistenceDegraded.Set(1)
		s.log.Error("aggregate cache unavailable; continuing in memory",
			zap.String("op", op),
			zap.Error(apperrors.ErrPersistenceUnavailable.WithInternal(err)),
		)
	}
	fallback := s.entries
	s.mu.Unlock()

	return fn(fallback)
}

// degradeLocked swaps the active backend for memory. The records and intents
// that can still be read are carried over. Callers hold s.mu.
func (s *LocalStore) degradeLocked(op string, cause error) {
	if s.degraded.Load() {
		return
	}
	fallback := newMemoryBackend(s.lastIntentID.Load())
	carried := s.carryOver(fallback)

	s.active = fallback
	s.degraded.Store(true)
	metrics.PersistenceDegraded.Set(1)
	s.log.Error("local persistence unavailable; continuing in memory for this session",
		zap.String("op", op),
		zap.Int("intents_carried", carried),
		zap.Error(apperrors.ErrPersistenceUnavailable.WithInternal(cause)),
	)
}

func (s *LocalStore) carryOver(fallback *memoryBackend) int {
	primary, ok := s.active.(*sqlBackend)
	if !ok {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	records, intents, err := primary.snapshot(ctx)
	if err != nil {
		s.log.Warn("persisted queue unreadable; pending intents reappear after restart", zap.Error(err))
		return 0
	}
	fallback.restore(records, intents)
	if n := len(intents); n > 0 {
		s.bumpLastIntentID(intents[n-1].ID)
	}
	return len(intents)
}

func (s *LocalStore) bumpLastIntentID(id uint64) {
	for {
		current := s.lastIntentID.Load()
		if id <= current || s.lastIntentID.CompareAndSwap(current, id) {
			return
		}
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, apperrors.ErrBadRequest) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
