package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/jpaulsen/stampede/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_print_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PrintJobModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_print_jobs_status_created ON print_jobs (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_print_jobs_campaign_id ON print_jobs (campaign_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PrintJobModel{})
			},
		},
		{
			ID: "000002_create_print_job_recipients",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.RecipientModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_recipients_job_seq ON print_job_recipients (job_id, seq)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_tracking_token ON print_job_recipients (tracking_token)`,
					`CREATE INDEX IF NOT EXISTS idx_recipients_job_failed ON print_job_recipients (job_id) WHERE status = 'failed'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.RecipientModel{})
			},
		},
		{
			ID: "000003_create_print_job_progress",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CheckpointModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_progress_job_id ON print_job_progress (job_id, id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CheckpointModel{})
			},
		},
		{
			ID: "000004_add_jobs_archive_size",
			Migrate: func(tx *gorm.DB) error {
				statements := []string{
					`ALTER TABLE print_jobs ADD COLUMN IF NOT EXISTS archive_size_bytes BIGINT NOT NULL DEFAULT 0`,
					`CREATE INDEX IF NOT EXISTS idx_print_jobs_pending_created ON print_jobs (created_at) WHERE status = 'pending'`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				statements := []string{
					`DROP INDEX IF EXISTS idx_print_jobs_pending_created`,
					`ALTER TABLE print_jobs DROP COLUMN IF EXISTS archive_size_bytes`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	return m.Migrate()
}
