package domain

import "time"

// Checkpoint is one row of a job's append-only progress log. Rows are never
// updated or deleted; the latest row is the current snapshot and older rows
// form the audit trail. Percent must never regress within a job.
type Checkpoint struct {
	ID      int64
	JobID   string
	Percent float64
	Message string

	CreatedAt time.Time
}
