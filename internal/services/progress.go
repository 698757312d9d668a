package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/repos"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

// ProgressService is the read path consumed by progress displays.
type ProgressService interface {
	GetCourseProgressForUser(ctx context.Context, userID uuid.UUID) ([]*types.CourseProgress, error)
	GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*types.CourseProgress, error)
	GetQuizAttempts(ctx context.Context, userID, quizID uuid.UUID) ([]*types.QuizAttempt, error)
}

type progressService struct {
	db           *gorm.DB
	log          *logger.Logger
	progressRepo repos.CourseProgressRepo
	attemptRepo  repos.QuizAttemptRepo
}

func NewProgressService(db *gorm.DB, baseLog *logger.Logger, progressRepo repos.CourseProgressRepo, attemptRepo repos.QuizAttemptRepo) ProgressService {
	return &progressService{
		db:           db,
		log:          baseLog.With("service", "ProgressService"),
		progressRepo: progressRepo,
		attemptRepo:  attemptRepo,
	}
}

func (s *progressService) GetCourseProgressForUser(ctx context.Context, userID uuid.UUID) ([]*types.CourseProgress, error) {
	return s.progressRepo.GetByUserID(ctx, nil, userID)
}

func (s *progressService) GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*types.CourseProgress, error) {
	return s.progressRepo.GetByUserAndCourse(ctx, nil, userID, courseID)
}

func (s *progressService) GetQuizAttempts(ctx context.Context, userID, quizID uuid.UUID) ([]*types.QuizAttempt, error) {
	return s.attemptRepo.GetByUserAndQuiz(ctx, nil, userID, quizID)
}
