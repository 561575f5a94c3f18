package repository

import (
	"time"

	"github.com/jpaulsen/stampede/internal/domain"
)

// PrintJobModel is the persistence model for the print_jobs table.
type PrintJobModel struct {
	ID               string        `gorm:"type:uuid;primaryKey"`
	CampaignID       string        `gorm:"type:varchar(64);not null"`
	TemplateID       *string       `gorm:"type:varchar(64)"`
	RequestedBy      string        `gorm:"type:varchar(255);not null"`
	TotalRecipients  int           `gorm:"not null"`
	ProcessedCount   int           `gorm:"not null;default:0"`
	SuccessCount     int           `gorm:"not null;default:0"`
	FailedCount      int           `gorm:"not null;default:0"`
	Status           domain.Status `gorm:"type:varchar(20);not null"`
	ArchivePath      *string       `gorm:"type:text"`
	ArchiveSizeBytes int64         `gorm:"not null;default:0"`
	ErrorMessage     *string       `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time `gorm:"type:timestamptz"`
	CompletedAt      *time.Time `gorm:"type:timestamptz"`
}

func (PrintJobModel) TableName() string {
	return "print_jobs"
}

// RecipientModel is the persistence model for print_job_recipients.
type RecipientModel struct {
	ID            string                 `gorm:"type:uuid;primaryKey"`
	JobID         string                 `gorm:"type:uuid;not null"`
	Seq           int                    `gorm:"not null;default:0"`
	ExternalID    string                 `gorm:"type:varchar(64)"`
	FirstName     string                 `gorm:"type:varchar(120)"`
	LastName      string                 `gorm:"type:varchar(120)"`
	Address       string                 `gorm:"type:varchar(255)"`
	City          string                 `gorm:"type:varchar(120)"`
	State         string                 `gorm:"type:varchar(40)"`
	PostalCode    string                 `gorm:"type:varchar(20)"`
	TrackingToken string                 `gorm:"type:varchar(32);not null"`
	Status        domain.RecipientStatus `gorm:"type:varchar(10);not null"`
	DocumentPath  *string                `gorm:"type:text"`
	ErrorMessage  *string                `gorm:"type:text"`
	CreatedAt     time.Time
	ProcessedAt   *time.Time `gorm:"type:timestamptz"`
}

func (RecipientModel) TableName() string {
	return "print_job_recipients"
}

// CheckpointModel is the persistence model for print_job_progress.
type CheckpointModel struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	JobID     string  `gorm:"type:uuid;not null"`
	Percent   float64 `gorm:"type:numeric(5,2);not null"`
	Message   string  `gorm:"type:text"`
	CreatedAt time.Time
}

func (CheckpointModel) TableName() string {
	return "print_job_progress"
}

func jobModelFromDomain(j *domain.PrintJob) *PrintJobModel {
	if j == nil {
		return nil
	}

	return &PrintJobModel{
		ID:               j.ID,
		CampaignID:       j.CampaignID,
		TemplateID:       j.TemplateID,
		RequestedBy:      j.RequestedBy,
		TotalRecipients:  j.TotalRecipients,
		ProcessedCount:   j.ProcessedCount,
		SuccessCount:     j.SuccessCount,
		FailedCount:      j.FailedCount,
		Status:           j.Status,
		ArchivePath:      j.ArchivePath,
		ArchiveSizeBytes: j.ArchiveSizeBytes,
		ErrorMessage:     j.ErrorMessage,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

func jobModelToDomain(m *PrintJobModel) *domain.PrintJob {
	if m == nil {
		return nil
	}

	return &domain.PrintJob{
		ID:               m.ID,
		CampaignID:       m.CampaignID,
		TemplateID:       m.TemplateID,
		RequestedBy:      m.RequestedBy,
		TotalRecipients:  m.TotalRecipients,
		ProcessedCount:   m.ProcessedCount,
		SuccessCount:     m.SuccessCount,
		FailedCount:      m.FailedCount,
		Status:           m.Status,
		ArchivePath:      m.ArchivePath,
		ArchiveSizeBytes: m.ArchiveSizeBytes,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:            r.ID,
		JobID:         r.JobID,
		Seq:           r.Seq,
		ExternalID:    r.ExternalID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Address:       r.Address,
		City:          r.City,
		State:         r.State,
		PostalCode:    r.PostalCode,
		TrackingToken: r.TrackingToken,
		Status:        r.Status,
		DocumentPath:  r.DocumentPath,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:            m.ID,
		JobID:         m.JobID,
		Seq:           m.Seq,
		ExternalID:    m.ExternalID,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Address:       m.Address,
		City:          m.City,
		State:         m.State,
		PostalCode:    m.PostalCode,
		TrackingToken: m.TrackingToken,
		Status:        m.Status,
		DocumentPath:  m.DocumentPath,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

func checkpointModelToDomain(m *CheckpointModel) *domain.Checkpoint {
	if m == nil {
		return nil
	}

	return &domain.Checkpoint{
		ID:        m.ID,
		JobID:     m.JobID,
		Percent:   m.Percent,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}
