package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobKindNormalize normalizes every raw event stamped with the job's batch id.
const JobKindNormalize = "normalize_raw_events"

// Job is a downstream processing job. The ingestion worker only creates and reads them.
type Job struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Kind        string     `gorm:"column:kind"`
	Status      JobStatus  `gorm:"column:status;index"`
	BatchID     string     `gorm:"column:batch_id;index"`
	UserID      string     `gorm:"column:user_id;index"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   *string    `gorm:"column:last_error"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (Job) TableName() string {
	return "job"
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
