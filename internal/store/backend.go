package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/inspectsync/internal/models"
	apperrors "github.com/charlesng35/inspectsync/pkg/errors"
)

// backend persists cached records and the intent queue.
type backend interface {
	putRecords(ctx context.Context, records []Record) error
	getRecord(ctx context.Context, namespace, key string) (Record, bool, error)
	allRecords(ctx context.Context, namespace string) ([]Record, error)
	replaceRecords(ctx context.Context, namespace string, records []Record) error
	purgeRecords(ctx context.Context, cutoff time.Time) (int64, error)

	insertIntent(ctx context.Context, intent *models.PendingIntent) error
	listIntents(ctx context.Context) ([]models.PendingIntent, error)
	updateIntent(ctx context.Context, id uint64, retryCount int, lastError string, at time.Time) error
	deleteIntent(ctx context.Context, id uint64) error
	countIntents(ctx context.Context) (int64, error)
	countEntityIntents(ctx context.Context, entityID string) (int64, error)
}

var errRetryDecrease = apperrors.NewBadRequest("retry count cannot decrease")

type sqlBackend struct {
	db *gorm.DB
}

func (b *sqlBackend) putRecords(ctx context.Context, records []Record) error {
	return upsertRecords(b.db.WithContext(ctx), records)
}

func (b *sqlBackend) replaceRecords(ctx context.Context, namespace string, records []Record) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ?", namespace).Delete(&models.CachedRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return upsertRecords(tx, records)
	})
}

func upsertRecords(db *gorm.DB, records []Record) error {
	rows := make([]models.CachedRecord, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.CachedRecord{
			Namespace: rec.Namespace,
			Key:       rec.Key,
			Status:    rec.Status,
			Payload:   datatypes.JSON(rec.Payload),
			UpdatedAt: rec.UpdatedAt,
		})
	}

	return db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "payload", "updated_at"}),
		}).
		Create(&rows).Error
}

func (b *sqlBackend) getRecord(ctx context.Context, namespace, key string) (Record, bool, error) {
	var row models.CachedRecord
	err := b.db.WithContext(ctx).
		Where(map[string]any{"namespace": namespace, "key": key}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return recordFromRow(row), true, nil
}

func (b *sqlBackend) allRecords(ctx context.Context, namespace string) ([]Record, error) {
	var rows []models.CachedRecord
	if err := b.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromRow(row))
	}
	return out, nil
}

func (b *sqlBackend) purgeRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	result := b.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&models.CachedRecord{})
	return result.RowsAffected, result.Error
}

func (b *sqlBackend) insertIntent(ctx context.Context, intent *models.PendingIntent) error {
	return b.db.WithContext(ctx).Create(intent).Error
}

func (b *sqlBackend) listIntents(ctx context.Context) ([]models.PendingIntent, error) {
	var intents []models.PendingIntent
	if err := b.db.WithContext(ctx).Order("id ASC").Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (b *sqlBackend) updateIntent(ctx context.Context, id uint64, retryCount int, lastError string, at time.Time) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.PendingIntent
		err := tx.Take(&current, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound.WithMessage(fmt.Sprintf("intent %d not found", id))
		}
		if err != nil {
			return err
		}
		if retryCount < current.RetryCount {
			return errRetryDecrease
		}

		return tx.Model(&models.PendingIntent{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"retry_count": retryCount,
				"last_error":  lastError,
				"updated_at":  at,
			}).Error
	})
}

func (b *sqlBackend) deleteIntent(ctx context.Context, id uint64) error {
	return b.db.WithContext(ctx).Delete(&models.PendingIntent{}, "id = ?", id).Error
}

func (b *sqlBackend) countIntents(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&models.PendingIntent{}).Count(&count).Error
	return count, err
}

func (b *sqlBackend) countEntityIntents(ctx context.Context, entityID string) (int64, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&models.PendingIntent{}).Where("entity_id = ?", entityID).Count(&count).Error
	return count, err
}

// snapshot reads every cached record and pending intent so a memory fallback
// can start from the last persisted state.
func (b *sqlBackend) snapshot(ctx context.Context) ([]Record, []models.PendingIntent, error) {
	var rows []models.CachedRecord
	if err := b.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	intents, err := b.listIntents(ctx)
	if err != nil {
		return nil, nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, intents, nil
}

func recordFromRow(row models.CachedRecord) Record {
	return Record{
		Namespace: row.Namespace,
		Key:       row.Key,
		Status:    row.Status,
		Payload:   []byte(row.Payload),
		UpdatedAt: row.UpdatedAt,
	}
}

// memoryBackend holds state for the current session only.
type memoryBackend struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	intents []models.PendingIntent
	lastID  uint64
}

func newMemoryBackend(seedID uint64) *memoryBackend {
	return &memoryBackend{
		records: make(map[string]map[string]Record),
		lastID:  seedID,
	}
}

func (b *memoryBackend) putRecords(_ context.Context, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rec := range records {
		ns := b.records[rec.Namespace]
		if ns == nil {
			ns = make(map[string]Record)
			b.records[rec.Namespace] = ns
		}
		rec.Payload = append([]byte(nil), rec.Payload...)
		ns[rec.Key] = rec
	}
	return nil
}

func (b *memoryBackend) replaceRecords(_ context.Context, namespace string, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns := make(map[string]Record, len(records))
	for _, rec := range records {
		rec.Payload = append([]byte(nil), rec.Payload...)
		ns[rec.Key] = rec
	}
	b.records[namespace] = ns
	return nil
}

func (b *memoryBackend) getRecord(_ context.Context, namespace, key string) (Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[namespace][key]
	return rec, ok, nil
}

func (b *memoryBackend) allRecords(_ context.Context, namespace string) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, 0, len(b.records[namespace]))
	for _, rec := range b.records[namespace] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *memoryBackend) purgeRecords(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for _, ns := range b.records {
		for key, rec := range ns {
			if rec.UpdatedAt.Before(cutoff) {
				delete(ns, key)
				removed++
			}
		}
	}
	return removed, nil
}

func (b *memoryBackend) insertIntent(_ context.Context, intent *models.PendingIntent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	intent.ID = b.lastID
	intent.EnsureIdempotencyKey()
	b.intents = append(b.intents, *intent)
	return nil
}

func (b *memoryBackend) listIntents(_ context.Context) ([]models.PendingIntent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]models.PendingIntent(nil), b.intents...), nil
}

func (b *memoryBackend) updateIntent(_ context.Context, id uint64, retryCount int, lastError string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.intents {
		if b.intents[i].ID != id {
			continue
		}
		if retryCount < b.intents[i].RetryCount {
			return errRetryDecrease
		}
		b.intents[i].RetryCount = retryCount
		b.intents[i].LastError = lastError
		b.intents[i].UpdatedAt = at
		return nil
	}
	return apperrors.ErrNotFound.WithMessage(fmt.Sprintf("intent %d not found", id))
}

func (b *memoryBackend) deleteIntent(_ context.Context, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.intents {
		if b.intents[i].ID == id {
			b.intents = append(b.intents[:i], b.intents[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *memoryBackend) countIntents(_ context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return int64(len(b.intents)), nil
}

func (b *memoryBackend) countEntityIntents(_ context.Context, entityID string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var count int64
	for _, intent := range b.intents {
		if intent.EntityID == entityID {
			count++
		}
	}
	return count, nil
}

// restore seeds the backend from a persisted snapshot. Intent ids are kept.
func (b *memoryBackend) restore(records []Record, intents []models.PendingIntent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rec := range records {
		ns := b.records[rec.Namespace]
		if ns == nil {
			ns = make(map[string]Record)
			b.records[rec.Namespace] = ns
		}
		ns[rec.Key] = rec
	}
	b.intents = append(b.intents[:0], intents...)
	for _, intent := range intents {
		b.lastID = max(b.lastID, intent.ID)
	}
}
