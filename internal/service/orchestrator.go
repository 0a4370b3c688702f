package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
)

const (
	DefaultWaitCeiling      = 5 * time.Minute
	DefaultWaitPollInterval = 5 * time.Second

	streamBuffer = 16
)

type SyncState string

const (
	StateIdle           SyncState = "idle"
	StatePlanning       SyncState = "planning"
	StateListing        SyncState = "listing"
	StateFetching       SyncState = "fetching"
	StateHandoffEnqueue SyncState = "handoff_enqueue"
	StateWaiting        SyncState = "waiting"
	StateCompleted      SyncState = "completed"
	StateFailed         SyncState = "failed"
)

// CredentialProvider hands out valid credentials for a run.
type CredentialProvider interface {
	GetValidCredential(ctx context.Context, userID, service string) (*oauth.Session, error)
}

// SyncResult describes one finished (or failed) run.
type SyncResult struct {
	BatchID   string
	UserID    string
	Provider  string
	Query     string
	State     SyncState
	Stats     models.SyncStats
	Job       *models.Job
	StartedAt time.Time
	Duration  time.Duration
}

// SyncOrchestrator runs a sync: credentials, window, listing, waves, handoff.
// Only auth and listing failures fail a run; everything after listing is counted.
type SyncOrchestrator struct {
	credentials CredentialProvider
	planner     *SyncWindowPlanner
	lister      *RemoteLister
	fetcher     *BatchFetcher
	handoff     *JobHandoff
	jobs        JobStore
	logger      *slog.Logger

	WaitCeiling      time.Duration
	WaitPollInterval time.Duration
	Now              func() time.Time

	runs sync.WaitGroup
}

func NewSyncOrchestrator(
	credentials CredentialProvider,
	planner *SyncWindowPlanner,
	lister *RemoteLister,
	fetcher *BatchFetcher,
	handoff *JobHandoff,
	jobs JobStore,
	logger *slog.Logger,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		credentials:      credentials,
		planner:          planner,
		lister:           lister,
		fetcher:          fetcher,
		handoff:          handoff,
		jobs:             jobs,
		logger:           logger,
		WaitCeiling:      DefaultWaitCeiling,
		WaitPollInterval: DefaultWaitPollInterval,
		Now:              time.Now,
	}
}

// Sync runs one sync directly and returns its result. progress may be nil.
func (o *SyncOrchestrator) Sync(ctx context.Context, userID string, src Source, opts models.SyncOptions, progress ProgressReporter) (*SyncResult, error) {
	opts = opts.WithDefaults()
	if opts.BatchID == "" {
		opts.BatchID = uuid.New().String()
	}

	result := &SyncResult{
		BatchID:   opts.BatchID,
		UserID:    userID,
		Provider:  src.Provider,
		State:     StateIdle,
		StartedAt: o.Now(),
	}
	run := newRunProgress(progress, opts.BatchID)
	logger := o.logger.With("user_id", userID, "provider", src.Provider, "batch_id", opts.BatchID)
	logger.Info("sync started", "incremental", opts.Incremental, "overlap_hours", opts.OverlapHours, "days_back", opts.DaysBack)

	result.State = StatePlanning
	session, err := o.credentials.GetValidCredential(ctx, userID, src.Service)
	if err != nil {
		return o.fail(logger, result, run, err)
	}
	query, err := o.planner.PlanQuery(ctx, userID, src.Provider, opts.Incremental, opts.OverlapHours, opts.DaysBack)
	if err != nil {
		return o.fail(logger, result, run, fmt.Errorf("failed to plan sync window: %w", err))
	}
	result.Query = query

	result.State = StateListing
	listed, err := o.lister.ListIDs(ctx, src, session, query)
	if err != nil {
		return o.fail(logger, result, run, err)
	}
	result.Stats.Total = len(listed.IDs)
	result.Stats.Pages = listed.Pages
	run.start(result.Stats.Total)

	if result.Stats.Total == 0 {
		result.State = StateCompleted
		result.Duration = o.Now().Sub(result.StartedAt)
		logger.Info("sync completed, nothing to fetch", "query", query)
		run.complete(fmt.Sprintf("no %s found", src.Noun), result.Stats)
		return result, nil
	}

	result.State = StateFetching
	fetched := o.fetcher.FetchAndStore(ctx, FetchRequest{
		Source:  src,
		Session: session,
		IDs:     listed.IDs,
		BatchID: opts.BatchID,
		OnWave: func(stats models.SyncStats) {
			run.batchComplete(stats.Processed)
		},
	})
	result.Stats.Processed = fetched.Processed
	result.Stats.Inserted = fetched.Inserted
	result.Stats.Created = fetched.Created
	result.Stats.Skipped = fetched.Skipped
	result.Stats.Errors = fetched.Errors

	result.State = StateHandoffEnqueue
	result.Job = o.handoff.EnqueueIfNeeded(ctx, userID, opts.BatchID, result.Stats.Created)

	result.State = StateCompleted
	result.Duration = o.Now().Sub(result.StartedAt)
	logger.Info("sync completed",
		"total", result.Stats.Total,
		"processed", result.Stats.Processed,
		"inserted", result.Stats.Inserted,
		"created", result.Stats.Created,
		"skipped", result.Stats.Skipped,
		"errors", result.Stats.Errors,
		"duration", result.Duration,
	)
	run.complete(fmt.Sprintf("synced %d of %d %s", result.Stats.Inserted, result.Stats.Total, src.Noun), result.Stats)
	return result, nil
}

// Start runs a sync in the background and returns its batch id immediately.
// The run is detached from ctx cancellation; Wait blocks until it finishes.
func (o *SyncOrchestrator) Start(ctx context.Context, userID string, src Source, opts models.SyncOptions, progress ProgressReporter) string {
	if opts.BatchID == "" {
		opts.BatchID = uuid.New().String()
	}
	runCtx := context.WithoutCancel(ctx)

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		if _, err := o.Sync(runCtx, userID, src, opts, progress); err != nil {
			o.logger.Error("background sync failed",
				"user_id", userID, "provider", src.Provider, "batch_id", opts.BatchID, "error", err)
		}
	}()
	return opts.BatchID
}

// Stream runs a sync with the streaming batch sizes and returns its progress events.
// The channel closes after the terminal event. Cancelling ctx ends the run even if
// nobody reads the channel any more.
func (o *SyncOrchestrator) Stream(ctx context.Context, userID string, src Source, opts models.SyncOptions) <-chan models.SyncProgressEvent {
	reporter := NewChannelReporter(ctx, streamBuffer)

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer reporter.Close()
		_, _ = o.Sync(ctx, userID, src.Streaming(), opts, reporter)
	}()
	return reporter.Events()
}

// SyncAndWait runs a sync and then waits for the downstream job it enqueued,
// polling the job's real status up to WaitCeiling. On timeout it returns
// *WaitTimeoutError; the job is left running.
func (o *SyncOrchestrator) SyncAndWait(ctx context.Context, userID string, src Source, opts models.SyncOptions, progress ProgressReporter) (*SyncResult, error) {
	result, err := o.Sync(ctx, userID, src, opts, progress)
	if err != nil || result.Job == nil {
		return result, err
	}

	result.State = StateWaiting
	job, err := o.waitForJob(ctx, result.BatchID, result.Job.ID)
	if err != nil {
		return result, err
	}
	result.Job = job
	result.State = StateCompleted
	result.Duration = o.Now().Sub(result.StartedAt)
	o.logger.Info("downstream job finished",
		"user_id", userID, "batch_id", result.BatchID, "job_id", job.ID, "status", job.Status)
	return result, nil
}

// Wait blocks until every background run has finished.
func (o *SyncOrchestrator) Wait() {
	o.runs.Wait()
}

func (o *SyncOrchestrator) waitForJob(ctx context.Context, batchID, jobID string) (*models.Job, error) {
	ceiling := o.WaitCeiling
	if ceiling <= 0 {
		ceiling = DefaultWaitCeiling
	}
	interval := o.WaitPollInterval
	if interval <= 0 {
		interval = DefaultWaitPollInterval
	}

	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := o.jobs.GetByBatchID(ctx, batchID, models.JobKindNormalize)
		if err != nil {
			o.logger.Warn("failed to poll downstream job", "batch_id", batchID, "error", err)
		} else if job.Done() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &WaitTimeoutError{BatchID: batchID, JobID: jobID, Waited: ceiling}
		case <-ticker.C:
		}
	}
}

func (o *SyncOrchestrator) fail(logger *slog.Logger, result *SyncResult, run *runProgress, err error) (*SyncResult, error) {
	failedIn := result.State
	result.State = StateFailed
	result.Duration = o.Now().Sub(result.StartedAt)
	logger.Error("sync failed", "state", failedIn, "error", err)
	run.fail(err)
	return result, err
}
