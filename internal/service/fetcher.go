package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/ratelimit"
	"golang.org/x/sync/errgroup"
)

const DefaultWavePause = 500 * time.Millisecond

// FetchRequest is one fetch-and-store pass over a candidate ID list.
type FetchRequest struct {
	Source  Source
	Session *oauth.Session
	IDs     []string
	BatchID string
	// OnWave receives the running totals after each wave commits.
	OnWave func(stats models.SyncStats)
}

// BatchFetcher fetches full items in bounded-concurrency waves and commits each
// wave through the dedup store.
//
// A wave is Parallel groups of BatchSize IDs. Groups run concurrently, items inside
// a group run sequentially, and the next wave starts only after the current wave's
// fetches and upsert have settled.
type BatchFetcher struct {
	store   EventStore
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	Pause   time.Duration

	sleep func(ctx context.Context, d time.Duration)
}

func NewBatchFetcher(store EventStore, limiter *ratelimit.Limiter, pause time.Duration, logger *slog.Logger) *BatchFetcher {
	return &BatchFetcher{
		store:   store,
		limiter: limiter,
		logger:  logger,
		Pause:   pause,
		sleep:   sleepContext,
	}
}

// FetchAndStore never fails: per-item and per-wave errors are counted in the stats.
func (f *BatchFetcher) FetchAndStore(ctx context.Context, req FetchRequest) models.SyncStats {
	var stats models.SyncStats

	batchSize := max(1, req.Source.BatchSize)
	parallel := max(1, req.Source.Parallel)
	waveSize := batchSize * parallel

	for start, wave := 0, 1; start < len(req.IDs); start, wave = start+waveSize, wave+1 {
		if start > 0 && f.Pause > 0 {
			f.logger.Debug("pacing between waves", "batch_id", req.BatchID, "pause", f.Pause)
			f.sleep(ctx, f.Pause)
		}

		end := min(start+waveSize, len(req.IDs))
		ws := f.runWave(ctx, req, req.IDs[start:end], batchSize, parallel)

		stats.Processed += ws.Processed
		stats.Inserted += ws.Inserted
		stats.Created += ws.Created
		stats.Skipped += ws.Skipped
		stats.Errors += ws.Errors

		f.logger.Info("wave committed",
			"batch_id", req.BatchID,
			"provider", req.Source.Provider,
			"wave", wave,
			"processed", stats.Processed,
			"total", len(req.IDs),
			"inserted", ws.Inserted,
			"errors", ws.Errors,
		)
		if req.OnWave != nil {
			req.OnWave(stats)
		}
	}
	return stats
}

func (f *BatchFetcher) runWave(ctx context.Context, req FetchRequest, ids []string, batchSize, parallel int) models.SyncStats {
	groups := chunk(ids, batchSize)
	fetched := make([][]models.RawEvent, len(groups))
	failures := make([]int, len(groups))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, group := range groups {
		g.Go(func() error {
			fetched[i], failures[i] = f.fetchGroup(ctx, req, group)
			return nil
		})
	}
	_ = g.Wait()

	stats := models.SyncStats{Processed: len(ids)}
	var items []models.RawEvent
	for i := range groups {
		items = append(items, fetched[i]...)
		stats.Errors += failures[i]
	}

	committed := f.commit(ctx, req, items)
	stats.Inserted = committed.Inserted
	stats.Created = committed.Created
	stats.Skipped = committed.Skipped
	stats.Errors += committed.Errors
	return stats
}

// fetchGroup fetches ids one after another. A failed item is counted and skipped.
func (f *BatchFetcher) fetchGroup(ctx context.Context, req FetchRequest, ids []string) ([]models.RawEvent, int) {
	items := make([]models.RawEvent, 0, len(ids))
	failures := 0

	for _, id := range ids {
		item, err := f.fetchOne(ctx, req, id)
		if err != nil {
			failures++
			f.logger.Warn("item fetch failed",
				"batch_id", req.BatchID, "provider", req.Source.Provider,
				"error", &ItemFetchError{SourceID: id, Err: err})
			continue
		}
		items = append(items, *item)
	}
	return items, failures
}

func (f *BatchFetcher) fetchOne(ctx context.Context, req FetchRequest, id string) (*models.RawEvent, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	item, rotated, err := req.Source.Client.FetchItem(ctx, req.Session.Token(), id)
	req.Session.Observe(rotated)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.New("provider returned no item")
	}

	item.UserID = req.Session.UserID()
	item.Provider = req.Source.Provider
	item.BatchID = req.BatchID
	if item.SourceID == "" {
		item.SourceID = id
	}
	return item, nil
}

// commit writes a wave's items through the bulk path with per-item fallback.
func (f *BatchFetcher) commit(ctx context.Context, req FetchRequest, items []models.RawEvent) models.SyncStats {
	var stats models.SyncStats
	if len(items) == 0 {
		return stats
	}

	userID := req.Session.UserID()
	sourceIDs := make([]string, 0, len(items))
	for _, item := range items {
		sourceIDs = append(sourceIDs, item.SourceID)
	}
	existing, err := f.store.ExistingSourceIDs(ctx, userID, req.Source.Provider, sourceIDs)
	if err != nil {
		f.logger.Warn("failed to read existing raw events, created count may be high",
			"batch_id", req.BatchID, "error", err)
		existing = map[string]struct{}{}
	}

	outcome := BulkWithFallback(ctx, items, f.store.UpsertMany,
		func(ctx context.Context, item models.RawEvent) (bool, error) {
			ok, err := f.store.UpsertOne(ctx, item)
			if ok {
				if _, seen := existing[item.SourceID]; !seen {
					stats.Created++
				}
			}
			return ok, err
		})

	if outcome.Fallback {
		f.logger.Warn("bulk upsert failed, wrote items individually",
			"batch_id", req.BatchID,
			"items", len(items),
			"written", outcome.Written,
			"failed", outcome.Failed,
			"error", outcome.BulkErr,
		)
	} else {
		for _, item := range items {
			if _, seen := existing[item.SourceID]; !seen && item.Ingestible() {
				stats.Created++
			}
		}
	}

	stats.Inserted = outcome.Written
	stats.Skipped = outcome.Skipped
	stats.Errors = outcome.Failed
	return stats
}

func chunk(ids []string, size int) [][]string {
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		groups = append(groups, ids[start:min(start+size, len(ids))])
	}
	return groups
}

// sleepContext returns early if ctx is done.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
