package service

import (
	"context"
	"log/slog"

	"github.com/vipul43/tendwell-worker/internal/models"
)

// JobHandoff enqueues downstream normalization for a completed batch.
type JobHandoff struct {
	jobs   JobStore
	logger *slog.Logger
}

func NewJobHandoff(jobs JobStore, logger *slog.Logger) *JobHandoff {
	return &JobHandoff{jobs: jobs, logger: logger}
}

// EnqueueIfNeeded creates one normalization job for batchID when the run stored
// at least one new row. Rows that were only overwritten were already handed off by
// the batch that first stored them. Failures are logged and swallowed: the raw rows
// are already stored and normalization can be retried on its own. Returns the job,
// or nil.
func (h *JobHandoff) EnqueueIfNeeded(ctx context.Context, userID, batchID string, created int) *models.Job {
	if created <= 0 {
		return nil
	}

	job := &models.Job{
		Kind:    models.JobKindNormalize,
		Status:  models.JobStatusPending,
		BatchID: batchID,
		UserID:  userID,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		h.logger.Warn("failed to enqueue normalization job",
			"user_id", userID, "batch_id", batchID, "created", created, "error", err)
		return nil
	}

	h.logger.Info("enqueued normalization job",
		"user_id", userID, "batch_id", batchID, "job_id", job.ID, "created", created)
	return job
}
