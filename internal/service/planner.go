package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vipul43/tendwell-worker/internal/models"
)

// WatermarkStore exposes the first-seen watermark of stored raw events.
type WatermarkStore interface {
	LatestCreatedAt(ctx context.Context, userID, provider string) (*time.Time, error)
}

// SyncWindowPlanner computes the provider query boundary for a run.
type SyncWindowPlanner struct {
	store  WatermarkStore
	logger *slog.Logger
	Now    func() time.Time
}

func NewSyncWindowPlanner(store WatermarkStore, logger *slog.Logger) *SyncWindowPlanner {
	return &SyncWindowPlanner{
		store:  store,
		logger: logger,
		Now:    time.Now,
	}
}

// PlanQuery builds the provider query for a run.
func (p *SyncWindowPlanner) PlanQuery(ctx context.Context, userID, provider string, incremental bool, overlapHours, fallbackDaysBack int) (string, error) {
	since, err := p.PlanBoundary(ctx, userID, provider, incremental, overlapHours, fallbackDaysBack)
	if err != nil {
		return "", err
	}
	query := FormatQuery(provider, since)
	p.logger.Info("planned sync window",
		"user_id", userID, "provider", provider, "incremental", incremental, "since", since, "query", query)
	return query, nil
}

// PlanBoundary returns the day-truncated "since" boundary. Incremental runs start from
// the last first-seen time minus the overlap; otherwise, or with nothing stored yet,
// the window reaches fallbackDaysBack days into the past.
//
// Day granularity means up to a day of already-seen items is listed again on every
// incremental run; upsert idempotence absorbs the repeats.
func (p *SyncWindowPlanner) PlanBoundary(ctx context.Context, userID, provider string, incremental bool, overlapHours, fallbackDaysBack int) (time.Time, error) {
	if fallbackDaysBack <= 0 {
		fallbackDaysBack = models.DefaultDaysBack
	}
	if overlapHours < 0 {
		overlapHours = 0
	}

	if incremental {
		latest, err := p.store.LatestCreatedAt(ctx, userID, provider)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read sync watermark: %w", err)
		}
		if latest != nil {
			return truncateToDay(latest.Add(-time.Duration(overlapHours) * time.Hour)), nil
		}
	}

	return truncateToDay(p.Now().AddDate(0, 0, -fallbackDaysBack)), nil
}

// FormatQuery renders a boundary in the provider's query syntax.
func FormatQuery(provider string, since time.Time) string {
	switch provider {
	case models.ProviderGoogleCalendar:
		// Events.List timeMin
		return since.UTC().Format(time.RFC3339)
	default:
		// Gmail search: everything except spam and trash on or after the day
		return fmt.Sprintf("-in:spam -in:trash after:%s", since.UTC().Format("2006/01/02"))
	}
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
