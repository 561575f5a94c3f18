package repository

import (
	"context"
	"time"

	"github.com/jpaulsen/stampede/internal/domain"
	"gorm.io/gorm"
)

type RecipientRepository interface {
	CreateBatch(ctx context.Context, recipients []*domain.Recipient) error
	ListByJob(ctx context.Context, jobID string) ([]domain.Recipient, error)
	MarkSuccess(ctx context.Context, id string, documentPath string, processedAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, processedAt time.Time) error
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) CreateBatch(ctx context.Context, recipients []*domain.Recipient) error {
	models := make([]RecipientModel, 0, len(recipients))
	modelIndexes := make([]int, 0, len(recipients))
	for i, rec := range recipients {
		model := recipientModelFromDomain(rec)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(recipients) && recipients[idx] != nil {
			*recipients[idx] = *recipientModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormRecipientRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Recipient, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}

	return recipients, nil
}

func (r *GormRecipientRepo) MarkSuccess(ctx context.Context, id string, documentPath string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.RecipientSuccess,
			"document_path": documentPath,
			"processed_at":  processedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecipientRepo) MarkFailed(ctx context.Context, id string, reason string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.RecipientFailed,
			"error_message": reason,
			"processed_at":  processedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
