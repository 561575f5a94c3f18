package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jpaulsen/stampede/internal/domain"
	"gorm.io/gorm"
)

type ProgressRepository interface {
	Append(ctx context.Context, jobID string, percent float64, message string, at time.Time) (bool, error)
	Latest(ctx context.Context, jobID string) (*domain.Checkpoint, error)
	ListByJob(ctx context.Context, jobID string) ([]domain.Checkpoint, error)
}

type GormProgressRepo struct {
	db *gorm.DB
}

func NewGormProgressRepo(db *gorm.DB) *GormProgressRepo {
	return &GormProgressRepo{db: db}
}

// Append inserts a checkpoint unless a higher percent is already recorded for
// the job. The guard runs inside the insert statement, so concurrent writers
// cannot make the log regress. Returns false when the row was skipped.
func (r *GormProgressRepo) Append(ctx context.Context, jobID string, percent float64, message string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO print_job_progress (job_id, percent, message, created_at)
		 SELECT ?, ?, ?, ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM print_job_progress WHERE job_id = ? AND percent > ?
		 )`,
		jobID, percent, message, at, jobID, percent,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormProgressRepo) Latest(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	var model CheckpointModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return checkpointModelToDomain(&model), nil
}

func (r *GormProgressRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Checkpoint, error) {
	var models []CheckpointModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	checkpoints := make([]domain.Checkpoint, 0, len(models))
	for i := range models {
		checkpoints = append(checkpoints, *checkpointModelToDomain(&models[i]))
	}

	return checkpoints, nil
}
