package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

type QuizAttemptRepo interface {
	CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, rows []*types.QuizAttempt) (int, error)
	GetByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID, quizID uuid.UUID) ([]*types.QuizAttempt, error)
}

type quizAttemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizAttemptRepo(db *gorm.DB, baseLog *logger.Logger) QuizAttemptRepo {
	repoLog := baseLog.With("repo", "QuizAttemptRepo")
	return &quizAttemptRepo{db: db, log: repoLog}
}

// CreateIgnoreDuplicates inserts attempts, skipping rows whose
// client_event_id already landed. Returns the number actually inserted.
func (r *quizAttemptRepo) CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, rows []*types.QuizAttempt) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return 0, nil
	}

	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_event_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *quizAttemptRepo) GetByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID, quizID uuid.UUID) ([]*types.QuizAttempt, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.QuizAttempt
	if userID == uuid.Nil || quizID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND quiz_id = ?", userID, quizID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
