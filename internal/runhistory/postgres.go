package runhistory

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// runRecord is the GORM model backing the Postgres run_history table.
type runRecord struct {
	gorm.Model
	RunID       string
	Mapping     string
	StartedAt   string
	FinishedAt  string
	RowsFetched int
	RowsWritten int
	RowsDeleted int
	Success     bool
	Error       string
}

// TableName overrides GORM's default pluralized name (run_records).
func (runRecord) TableName() string { return "run_history" }

type postgresRecorder struct {
	db *gorm.DB
}

func newPostgresRecorder(dsn string) (*postgresRecorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to run-history postgres database: %w", err)
	}
	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrating run_history table: %w", err)
	}
	return &postgresRecorder{db: db}, nil
}

func (r *postgresRecorder) Record(ctx context.Context, run Run) error {
	record := runRecord{
		RunID:       run.ID,
		Mapping:     run.Mapping,
		StartedAt:   run.StartedAt.Format(rfc3339),
		FinishedAt:  run.FinishedAt.Format(rfc3339),
		RowsFetched: run.RowsFetched,
		RowsWritten: run.RowsWritten,
		RowsDeleted: run.RowsDeleted,
		Success:     run.Success,
		Error:       run.Error,
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *postgresRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
