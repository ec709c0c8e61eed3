package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/inspectsync/internal/models"
)

var errNoDatabase = errors.New("cache: database store not initialised")

// upsertOnKey overwrites value and timestamp when the key already exists.
var upsertOnKey = clause.OnConflict{
	Columns:   []clause.Column{{Name: "key"}},
	DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
}

// DatabaseStore keeps aggregates in the cache_entries table next to the mirror.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore returns nil for a nil handle so callers can fall back.
func NewDatabaseStore(db *gorm.DB, opts ...Option) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: buildOptions(opts).now}
}

func (s *DatabaseStore) session(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errNoDatabase
	}
	return s.db.WithContext(ensuredContext(ctx)), nil
}

func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte) error {
	tx, err := s.session(ctx)
	if err != nil {
		return err
	}
	row := models.CacheEntry{Key: key, Value: datatypes.JSON(value), UpdatedAt: s.now().UTC()}
	return tx.Clauses(upsertOnKey).Create(&row).Error
}

func (s *DatabaseStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	tx, err := s.session(ctx)
	if err != nil {
		return Entry{}, false, err
	}

	var row models.CacheEntry
	switch err := tx.Where("key = ?", key).Take(&row).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, err
	}
	return Entry{Key: row.Key, Value: []byte(row.Value), UpdatedAt: row.UpdatedAt}, true, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	tx, err := s.session(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return tx.Where("key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeOlderThan deletes entries last written before cutoff and reports how many went.
func (s *DatabaseStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	result := tx.Where("updated_at < ?", cutoff.UTC()).Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}
