package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QuizAttempt is append-only: completions are facts in time, never mutated.
// ClientEventID carries the originating event id; the unique index on it is
// what makes a replayed QUIZ_COMPLETED batch a no-op.
type QuizAttempt struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ClientEventID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"client_event_id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	QuizID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"quiz_id"`
	CourseID         uuid.UUID      `gorm:"type:uuid;index" json:"course_id"`
	Score            float64        `gorm:"column:score;not null;default:0" json:"score"`
	Accuracy         float64        `gorm:"column:accuracy;not null;default:0" json:"accuracy"`
	TimeSpentSeconds int            `gorm:"column:time_spent_seconds;not null;default:0" json:"time_spent_seconds"`
	Metadata         datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
}

func (QuizAttempt) TableName() string { return "quiz_attempt" }
