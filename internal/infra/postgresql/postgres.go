package postgresql

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns = 20
	minIdleConns        = 5
)

// NewPostgres opens a gorm session against dsn. maxOpenConns <= 0 selects the
// default pool size, which suits the api's read-mostly traffic; the worker
// passes its render fan-out so per-recipient result writes do not queue
// behind the pool. Timestamps gorm manages itself are written in UTC to match
// the timestamptz columns.
func NewPostgres(dsn string, maxOpenConns int) (*gorm.DB, error) {
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	idle := maxOpenConns / 4
	if idle < minIdleConns {
		idle = minIdleConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}
