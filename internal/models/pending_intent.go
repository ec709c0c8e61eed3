package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PendingIntent is a status change recorded while offline and awaiting replay.
type PendingIntent struct {
	ID             uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityID       string           `gorm:"size:191;not null;index" json:"entity_id"`
	NewState       InspectionStatus `gorm:"size:32;not null" json:"new_state"`
	IdempotencyKey string           `gorm:"size:36;not null;uniqueIndex" json:"idempotency_key"`
	RetryCount     int              `gorm:"not null;default:0" json:"retry_count"`
	LastError      string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TableName pins the table name.
func (PendingIntent) TableName() string {
	return "pending_intents"
}

// BeforeCreate assigns the idempotency key replayed with every attempt of this intent.
func (p *PendingIntent) BeforeCreate(tx *gorm.DB) error {
	p.EnsureIdempotencyKey()
	return nil
}

// EnsureIdempotencyKey generates a key when one is not already set.
func (p *PendingIntent) EnsureIdempotencyKey() {
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}
}
