package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/tendwell-worker/internal/models"
	"gorm.io/datatypes"
)

func email(userID, sourceID, subject string) models.RawEvent {
	return models.RawEvent{
		UserID:     userID,
		Provider:   models.ProviderGmail,
		SourceID:   sourceID,
		Payload:    datatypes.JSON(`{"subject":"` + subject + `"}`),
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		BatchID:    "batch-1",
		SourceMeta: models.JSONB{"subject": subject},
	}
}

func TestRawEventRepository_UpsertOneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepository(newTestDB(t))

	written, err := repo.UpsertOne(ctx, email("u1", "m1", "first"))
	require.NoError(t, err)
	assert.True(t, written)

	first, err := repo.LatestCreatedAt(ctx, "u1", models.ProviderGmail)
	require.NoError(t, err)
	require.NotNil(t, first)

	second := email("u1", "m1", "second")
	second.BatchID = "batch-2"
	written, err = repo.UpsertOne(ctx, second)
	require.NoError(t, err)
	assert.True(t, written)

	var rows []models.RawEvent
	require.NoError(t, repo.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"subject":"second"}`, string(rows[0].Payload))
	assert.Equal(t, "batch-2", rows[0].BatchID)
	assert.Equal(t, "second", rows[0].SourceMeta["subject"])
	assert.True(t, rows[0].CreatedAt.Equal(*first), "created_at must keep the first-seen time")
}

func TestRawEventRepository_UpsertManyOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepository(newTestDB(t))

	n, err := repo.UpsertMany(ctx, []models.RawEvent{email("u1", "m1", "a"), email("u1", "m2", "b")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.UpsertMany(ctx, []models.RawEvent{email("u1", "m2", "b2"), email("u1", "m3", "c")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var count int64
	require.NoError(t, repo.db.Model(&models.RawEvent{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var m2 models.RawEvent
	require.NoError(t, repo.db.First(&m2, "source_id = ?", "m2").Error)
	assert.JSONEq(t, `{"subject":"b2"}`, string(m2.Payload))
}

func TestRawEventRepository_SameSourceDifferentUser(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepository(newTestDB(t))

	n, err := repo.UpsertMany(ctx, []models.RawEvent{email("u1", "m1", "a"), email("u2", "m1", "a")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRawEventRepository_SkipsNonIngestible(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepository(newTestDB(t))

	noEnd := models.RawEvent{
		UserID:     "u1",
		Provider:   models.ProviderGoogleCalendar,
		SourceID:   "evt-1",
		OccurredAt: time.Now(),
		SourceMeta: models.JSONB{"summary": "Intake"},
	}

	n, err := repo.UpsertMany(ctx, []models.RawEvent{noEnd, email("u1", "m1", "a")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	written, err := repo.UpsertOne(ctx, noEnd)
	require.NoError(t, err)
	assert.False(t, written)

	n, err = repo.UpsertMany(ctx, []models.RawEvent{noEnd})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRawEventRepository_LatestCreatedAtEmpty(t *testing.T) {
	repo := NewRawEventRepository(newTestDB(t))

	latest, err := repo.LatestCreatedAt(context.Background(), "nobody", models.ProviderGmail)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRawEventRepository_ExistingSourceIDsAndCount(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepository(newTestDB(t))

	_, err := repo.UpsertMany(ctx, []models.RawEvent{email("u1", "m1", "a"), email("u1", "m2", "b")})
	require.NoError(t, err)

	existing, err := repo.ExistingSourceIDs(ctx, "u1", models.ProviderGmail, []string{"m1", "m3"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)
	assert.Contains(t, existing, "m1")

	count, err := repo.CountByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
