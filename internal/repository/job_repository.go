package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/tendwell-worker/internal/models"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job, filling id, status and timestamps when unset
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", result.Error)
	}
	return &job, nil
}

// GetByBatchID retrieves the most recent job of a kind for a sync batch
func (r *JobRepository) GetByBatchID(ctx context.Context, batchID, kind string) (*models.Job, error) {
	var job models.Job
	result := r.db.WithContext(ctx).
		Where("batch_id = ? AND kind = ?", batchID, kind).
		Order("created_at DESC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job for batch: %w", result.Error)
	}
	return &job, nil
}
