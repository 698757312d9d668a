package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

type ProgressEventRepo interface {
	CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, rows []*types.ProgressEvent) (int, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProgressEvent, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.ProgressEvent, error)
}

type progressEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressEventRepo(db *gorm.DB, baseLog *logger.Logger) ProgressEventRepo {
	repoLog := baseLog.With("repo", "ProgressEventRepo")
	return &progressEventRepo{db: db, log: repoLog}
}

// CreateIgnoreDuplicates journals events under their client-generated ids.
// A replayed batch conflicts on the primary key and inserts nothing.
func (r *progressEventRepo) CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, rows []*types.ProgressEvent) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return 0, nil
	}

	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *progressEventRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProgressEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ProgressEvent
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

func (r *progressEventRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.ProgressEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ProgressEvent
	if userID == uuid.Nil {
		return results, nil
	}

	q := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
