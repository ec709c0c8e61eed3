// Package database opens the gorm handle behind the local mirror and intent
// queue. SQLite is the default; postgres and mysql serve shared deployments.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/inspectsync/internal/models"
)

const pingTimeout = 3 * time.Second

var errNilHandle = errors.New("database: nil handle")

// Config describes the local store connection. Path applies to sqlite only;
// DSN overrides everything else when set.
type Config struct {
	Driver   string
	Path     string
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string
}

// Schema lists the tables owned by the agent.
func Schema() []interface{} {
	return []interface{}{
		&models.CachedRecord{},
		&models.PendingIntent{},
		&models.CacheEntry{},
	}
}

// Open connects without migrating. An empty driver means sqlite.
func Open(cfg Config) (*gorm.DB, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		return openNetwork("postgres", cfg)
	case "mysql", "mariadb":
		return openNetwork("mysql", cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Prepare opens the database and brings the schema up to date.
func Prepare(cfg Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the tables in Schema.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errNilHandle
	}
	return db.AutoMigrate(Schema()...)
}

func Ping(db *gorm.DB) error {
	if db == nil {
		return errNilHandle
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool. Closing nil is a no-op.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
