package models

import (
	"time"

	"gorm.io/datatypes"
)

// Cache namespaces used by the local mirror.
const (
	NamespaceInspections = "inspections"
	NamespaceAssignments = "assignments"
)

// CachedRecord is a read-side mirror of a remote entity, keyed by namespace and key.
type CachedRecord struct {
	Namespace string         `gorm:"primaryKey;size:64"`
	Key       string         `gorm:"primaryKey;size:191"`
	Status    string         `gorm:"size:32;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"index;autoUpdateTime:false"`
}

// TableName pins the table name.
func (CachedRecord) TableName() string {
	return "cached_records"
}
