package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProgressEvent journals each accepted event under its client-generated id.
// Replayed batches conflict on the primary key and are ignored, which is the
// server half of the at-least-once contract.
type ProgressEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	EntityID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	EntityType string         `gorm:"column:entity_type;not null" json:"entity_type"`
	Type       string         `gorm:"column:type;not null;index" json:"type"`
	BatchID    string         `gorm:"column:batch_id;index" json:"batch_id,omitempty"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null" json:"occurred_at"`
	Data       datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (ProgressEvent) TableName() string { return "progress_event" }
