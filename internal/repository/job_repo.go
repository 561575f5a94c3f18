package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jpaulsen/stampede/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status     *domain.Status
	CampaignID *string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

type JobRepository interface {
	Create(ctx context.Context, j *domain.PrintJob) error
	GetByID(ctx context.Context, id string) (*domain.PrintJob, error)
	List(ctx context.Context, params ListParams) ([]domain.PrintJob, int64, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, archivePath string, archiveSize int64, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string, completedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, at time.Time) error
	IncrementCounters(ctx context.Context, id string, succeeded bool) error
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PrintJob, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, j *domain.PrintJob) error {
	model := jobModelFromDomain(j)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if j != nil {
		*j = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.PrintJob, error) {
	var model PrintJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params ListParams) ([]domain.PrintJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&PrintJobModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []PrintJobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.PrintJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, total, nil
}

// MarkProcessing claims a pending job for execution. The status guard makes
// the claim exclusive, so a message delivered twice runs the job only once.
func (r *GormJobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PrintJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":     domain.StatusProcessing,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkCompleted finalizes a running job. The status guard keeps a concurrent
// cancellation from being overwritten; callers get false when that happened.
func (r *GormJobRepo) MarkCompleted(ctx context.Context, id string, archivePath string, archiveSize int64, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PrintJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":             domain.StatusCompleted,
			"archive_path":       archivePath,
			"archive_size_bytes": archiveSize,
			"completed_at":       completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, reason string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PrintJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": reason,
			"completed_at":  completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormJobRepo) Cancel(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PrintJobModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusPending, domain.StatusProcessing}).
		Updates(map[string]any{
			"status":       domain.StatusCancelled,
			"completed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrNotCancellable
	}
	return nil
}

func (r *GormJobRepo) IncrementCounters(ctx context.Context, id string, succeeded bool) error {
	counter := "failed_count"
	if succeeded {
		counter = "success_count"
	}

	result := r.db.WithContext(ctx).
		Model(&PrintJobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_count": gorm.Expr("processed_count + 1"),
			counter:           gorm.Expr(counter + " + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindStalePending returns jobs still pending past the enqueue grace period,
// oldest first. The reconciler re-publishes these in case the original queue
// message was lost.
func (r *GormJobRepo) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PrintJob, error) {
	var models []PrintJobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", domain.StatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.PrintJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}
