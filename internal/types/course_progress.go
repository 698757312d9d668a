package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CourseProgress is the durable aggregate for one (user, course) pair. The
// unique index is the natural key the bulk ingestion upsert serializes on.
// Progress and CompletedChapters only ever grow; IsCompleted is sticky.
type CourseProgress struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID      `gorm:"type:uuid;not null;index:idx_user_course,unique" json:"user_id"`
	User              *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	CourseID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_user_course,unique" json:"course_id"`
	Course            *Course        `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	CurrentChapterID  *uuid.UUID     `gorm:"type:uuid;column:current_chapter_id" json:"current_chapter_id,omitempty"`
	CompletedChapters datatypes.JSON `gorm:"column:completed_chapters" json:"completed_chapters"`
	ChapterProgress   datatypes.JSON `gorm:"column:chapter_progress" json:"chapter_progress"`
	Progress          float64        `gorm:"column:progress;not null;default:0" json:"progress"`
	IsCompleted       bool           `gorm:"column:is_completed;not null;default:false" json:"is_completed"`
	LastAccessedAt    *time.Time     `gorm:"column:last_accessed_at" json:"last_accessed_at,omitempty"`
	TimeSpentSeconds  int            `gorm:"column:time_spent_seconds;not null;default:0" json:"time_spent_seconds"`
	InteractionCount  int            `gorm:"column:interaction_count;not null;default:0" json:"interaction_count"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseProgress) TableName() string { return "course_progress" }
