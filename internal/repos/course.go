package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

type CourseRepo interface {
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Course, error)
	ChapterCount(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (int, error)
}

type courseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	repoLog := baseLog.With("repo", "CourseRepo")
	return &courseRepo{db: db, log: repoLog}
}

func (r *courseRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Course, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Course
	if len(ids) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ChapterCount prefers counting chapter rows; courses imported without
// chapter records fall back to the denormalized total_chapters column.
func (r *courseRepo) ChapterCount(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if courseID == uuid.Nil {
		return 0, nil
	}

	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Chapter{}).
		Where("course_id = ?", courseID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	if n > 0 {
		return int(n), nil
	}

	var course types.Course
	if err := transaction.WithContext(ctx).
		Select("total_chapters").
		Where("id = ?", courseID).
		First(&course).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return course.TotalChapters, nil
}
