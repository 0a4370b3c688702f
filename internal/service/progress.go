package service

import (
	"context"
	"sync"

	"github.com/vipul43/tendwell-worker/internal/models"
)

// ProgressReporter receives the progress events of a sync run, in order:
// start, zero or more batch_complete, then exactly one of complete or error.
type ProgressReporter interface {
	Report(event models.SyncProgressEvent)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(event models.SyncProgressEvent)

func (f ProgressFunc) Report(event models.SyncProgressEvent) { f(event) }

type nopReporter struct{}

func (nopReporter) Report(models.SyncProgressEvent) {}

// ChannelReporter exposes progress as a channel for SSE bridges and CLI progress bars.
type ChannelReporter struct {
	ctx    context.Context
	events chan models.SyncProgressEvent
	once   sync.Once
}

// NewChannelReporter builds a reporter whose sends give up once ctx is done.
func NewChannelReporter(ctx context.Context, buffer int) *ChannelReporter {
	return &ChannelReporter{ctx: ctx, events: make(chan models.SyncProgressEvent, buffer)}
}

// Report blocks while the buffer is full. Once ctx is done events are dropped,
// so an abandoned consumer never holds up the run; the terminal event is then
// best effort.
func (r *ChannelReporter) Report(event models.SyncProgressEvent) {
	select {
	case r.events <- event:
	case <-r.ctx.Done():
	}
}

func (r *ChannelReporter) Events() <-chan models.SyncProgressEvent {
	return r.events
}

// Close ends the stream. It is safe to call more than once.
func (r *ChannelReporter) Close() {
	r.once.Do(func() { close(r.events) })
}

// runProgress keeps a run's event sequence well formed: start is always first and
// exactly one terminal event is sent.
type runProgress struct {
	reporter ProgressReporter
	batchID  string
	total    int
	started  bool
	finished bool
}

func newRunProgress(reporter ProgressReporter, batchID string) *runProgress {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &runProgress{reporter: reporter, batchID: batchID}
}

func (p *runProgress) start(total int) {
	if p.started {
		return
	}
	p.started = true
	p.total = total
	p.reporter.Report(models.SyncProgressEvent{
		Type:    models.ProgressStart,
		BatchID: p.batchID,
		Total:   total,
	})
}

func (p *runProgress) batchComplete(processed int) {
	if p.finished {
		return
	}
	p.reporter.Report(models.SyncProgressEvent{
		Type:      models.ProgressBatchComplete,
		BatchID:   p.batchID,
		Processed: processed,
		Total:     p.total,
	})
}

func (p *runProgress) complete(message string, stats models.SyncStats) {
	if p.finished {
		return
	}
	p.start(stats.Total)
	p.finished = true
	p.reporter.Report(models.SyncProgressEvent{
		Type:      models.ProgressComplete,
		BatchID:   p.batchID,
		Processed: stats.Processed,
		Total:     stats.Total,
		Message:   message,
		Stats:     &stats,
	})
}

func (p *runProgress) fail(err error) {
	if p.finished {
		return
	}
	p.start(0)
	p.finished = true
	p.reporter.Report(models.SyncProgressEvent{
		Type:    models.ProgressError,
		BatchID: p.batchID,
		Total:   p.total,
		Message: "sync failed",
		Error:   err.Error(),
	})
}
