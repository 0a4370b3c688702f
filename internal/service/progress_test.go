package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/tendwell-worker/internal/models"
)

func TestRunProgress_FailBeforeStart(t *testing.T) {
	rec := &recorder{}
	run := newRunProgress(rec, "batch-1")

	run.fail(errors.New("boom"))
	run.complete("ignored", models.SyncStats{})

	assert.Equal(t, []models.ProgressEventType{models.ProgressStart, models.ProgressError}, rec.types())
	assert.Zero(t, rec.events[0].Total)
	assert.Equal(t, "boom", rec.events[1].Error)
	assert.Equal(t, "batch-1", rec.events[1].BatchID)
}

func TestRunProgress_OrderedSequence(t *testing.T) {
	rec := &recorder{}
	run := newRunProgress(rec, "batch-1")

	run.start(10)
	run.start(99)
	run.batchComplete(5)
	run.batchComplete(10)
	run.complete("done", models.SyncStats{Total: 10, Processed: 10, Inserted: 10})
	run.batchComplete(11)
	run.fail(errors.New("late"))

	assert.Equal(t, []models.ProgressEventType{
		models.ProgressStart,
		models.ProgressBatchComplete,
		models.ProgressBatchComplete,
		models.ProgressComplete,
	}, rec.types())
	assert.Equal(t, 10, rec.events[0].Total)
	assert.Equal(t, 10, rec.events[1].Total)
	require.NotNil(t, rec.last().Stats)
	assert.Equal(t, 10, rec.last().Stats.Inserted)
}

func TestRunProgress_NilReporter(t *testing.T) {
	run := newRunProgress(nil, "batch-1")
	assert.NotPanics(t, func() {
		run.start(1)
		run.complete("done", models.SyncStats{Total: 1})
	})
}

func TestChannelReporter(t *testing.T) {
	reporter := NewChannelReporter(context.Background(), 2)
	reporter.Report(models.SyncProgressEvent{Type: models.ProgressStart})
	reporter.Report(models.SyncProgressEvent{Type: models.ProgressComplete})
	reporter.Close()
	reporter.Close()

	var types []models.ProgressEventType
	for event := range reporter.Events() {
		types = append(types, event.Type)
	}
	assert.Equal(t, []models.ProgressEventType{models.ProgressStart, models.ProgressComplete}, types)
}

func TestProgressFunc(t *testing.T) {
	var got models.SyncProgressEvent
	var reporter ProgressReporter = ProgressFunc(func(e models.SyncProgressEvent) { got = e })

	reporter.Report(models.SyncProgressEvent{Type: models.ProgressBatchComplete, Processed: 3})

	assert.Equal(t, 3, got.Processed)
}

func TestChannelReporter_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reporter := NewChannelReporter(ctx, 1)
	reporter.Report(models.SyncProgressEvent{Type: models.ProgressStart})
	cancel()

	done := make(chan struct{})
	go func() {
		reporter.Report(models.SyncProgressEvent{Type: models.ProgressBatchComplete})
		reporter.Report(models.SyncProgressEvent{Type: models.ProgressComplete})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked after the context was cancelled")
	}
	assert.Equal(t, models.ProgressStart, (<-reporter.Events()).Type)
}
