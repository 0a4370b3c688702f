package service

import (
	"context"
	"time"

	"github.com/vipul43/tendwell-worker/internal/models"
	"golang.org/x/oauth2"
)

const (
	DefaultEmailBatchSize       = 20
	DefaultEmailParallelBatches = 5
	DefaultCalendarBatchSize    = 10
	DefaultCalendarParallel     = 3

	emailPageSize    = 500 // Gmail API maximum
	calendarPageSize = 250
)

// ProviderClient is the provider call pattern the pipeline assumes: list IDs, then
// fetch each full item. Every call returns the token the OAuth client rotated to
// during the call, or nil if it did not rotate.
type ProviderClient interface {
	ListIDs(ctx context.Context, token *oauth2.Token, query string, pageToken string, maxResults int) (*IDPage, *oauth2.Token, error)
	FetchItem(ctx context.Context, token *oauth2.Token, id string) (*models.RawEvent, *oauth2.Token, error)
}

// IDPage is one page of the provider's list endpoint.
type IDPage struct {
	IDs           []string
	NextPageToken string
}

// EventStore is the deduplicating raw event store.
type EventStore interface {
	UpsertMany(ctx context.Context, events []models.RawEvent) (int, error)
	UpsertOne(ctx context.Context, event models.RawEvent) (bool, error)
	LatestCreatedAt(ctx context.Context, userID, provider string) (*time.Time, error)
	ExistingSourceIDs(ctx context.Context, userID, provider string, sourceIDs []string) (map[string]struct{}, error)
}

// JobStore is the downstream job table.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByBatchID(ctx context.Context, batchID, kind string) (*models.Job, error)
}

// Source describes one ingestible provider service and how to pace it.
type Source struct {
	Provider  string // raw_event.provider
	Service   string // integration_credential.service
	Noun      string // used in user-facing messages
	Client    ProviderClient
	BatchSize int
	Parallel  int
	PageSize  int
}

// EmailSource returns the Gmail source.
func EmailSource(client ProviderClient, batchSize, parallel int) Source {
	return Source{
		Provider:  models.ProviderGmail,
		Service:   models.ServiceGmail,
		Noun:      "emails",
		Client:    client,
		BatchSize: orDefault(batchSize, DefaultEmailBatchSize),
		Parallel:  orDefault(parallel, DefaultEmailParallelBatches),
		PageSize:  emailPageSize,
	}
}

// CalendarSource returns the Google Calendar source.
func CalendarSource(client ProviderClient, batchSize, parallel int) Source {
	return Source{
		Provider:  models.ProviderGoogleCalendar,
		Service:   models.ServiceCalendar,
		Noun:      "calendar events",
		Client:    client,
		BatchSize: orDefault(batchSize, DefaultCalendarBatchSize),
		Parallel:  orDefault(parallel, DefaultCalendarParallel),
		PageSize:  calendarPageSize,
	}
}

// Streaming returns the source tuned for live-progress runs: batch size and
// parallelism are halved so progress events arrive more often.
func (s Source) Streaming() Source {
	s.BatchSize = max(1, s.BatchSize/2)
	s.Parallel = max(1, s.Parallel/2)
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
