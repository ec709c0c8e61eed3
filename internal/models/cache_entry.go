package models

import (
	"time"

	"gorm.io/datatypes"
)

// Aggregate cache entry names.
const (
	EntryDashboardStats = "stats"
)

// CacheEntry is a named single-slot cache for aggregate data such as dashboard stats.
type CacheEntry struct {
	Key       string         `gorm:"primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false"`
}

// TableName pins the table name.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
