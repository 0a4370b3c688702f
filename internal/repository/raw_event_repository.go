package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/tendwell-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns overwritten when a (user_id, provider, source_id) row already exists.
// created_at is deliberately absent: it stays the first-seen watermark.
var rawEventUpsertColumns = []string{"payload", "occurred_at", "source_meta", "batch_id", "updated_at"}

type RawEventRepository struct {
	db *gorm.DB
}

func NewRawEventRepository(db *gorm.DB) *RawEventRepository {
	return &RawEventRepository{db: db}
}

// UpsertMany writes all ingestible rows in one statement and returns how many were written.
// Rows missing required fields are skipped, not reported as errors.
func (r *RawEventRepository) UpsertMany(ctx context.Context, events []models.RawEvent) (int, error) {
	rows := make([]models.RawEvent, 0, len(events))
	now := time.Now()
	for _, event := range events {
		if !event.Ingestible() {
			continue
		}
		rows = append(rows, prepareRawEvent(event, now))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Clauses(upsertClause()).Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to upsert raw events: %w", result.Error)
	}
	return len(rows), nil
}

// UpsertOne writes a single row. It returns false without error when the row is not ingestible.
func (r *RawEventRepository) UpsertOne(ctx context.Context, event models.RawEvent) (bool, error) {
	if !event.Ingestible() {
		return false, nil
	}
	row := prepareRawEvent(event, time.Now())

	result := r.db.WithContext(ctx).Clauses(upsertClause()).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("failed to upsert raw event %s: %w", event.SourceID, result.Error)
	}
	return true, nil
}

// LatestCreatedAt returns the newest first-seen time for a user's provider, or nil when none exist
func (r *RawEventRepository) LatestCreatedAt(ctx context.Context, userID, provider string) (*time.Time, error) {
	var event models.RawEvent
	result := r.db.WithContext(ctx).
		Select("created_at").
		Where("user_id = ? AND provider = ?", userID, provider).
		Order("created_at DESC").
		Limit(1).
		Take(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest raw event: %w", result.Error)
	}
	return &event.CreatedAt, nil
}

// ExistingSourceIDs returns the subset of sourceIDs already stored for the user's provider
func (r *RawEventRepository) ExistingSourceIDs(ctx context.Context, userID, provider string, sourceIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return existing, nil
	}

	var found []string
	result := r.db.WithContext(ctx).Model(&models.RawEvent{}).
		Where("user_id = ? AND provider = ? AND source_id IN ?", userID, provider, sourceIDs).
		Pluck("source_id", &found)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query existing raw events: %w", result.Error)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// CountByBatch counts rows stamped with a batch id
func (r *RawEventRepository) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.RawEvent{}).
		Where("batch_id = ?", batchID).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", result.Error)
	}
	return count, nil
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns(rawEventUpsertColumns),
	}
}

func prepareRawEvent(event models.RawEvent, now time.Time) models.RawEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	return event
}
