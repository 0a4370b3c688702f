package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/ratelimit"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
)

var testOccurredAt = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *oauth.Session {
	return oauth.NewSession(nil, "cred-1", "user-1", models.ServiceGmail, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})
}

func idRange(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + "-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
	}
	return ids
}

// mockProviderClient serves list pages keyed by page token and items keyed by id.
type mockProviderClient struct {
	mu        sync.Mutex
	pages     map[string]*IDPage
	listErrs  []error // consumed one per ListIDs call before pages are served
	fetchErrs map[string]error
	broken    map[string]bool // items returned without an occurredAt
	rotateOn  string          // item id whose fetch rotates the token

	listCalls  int
	fetchCalls atomic.Int32
	inflight   atomic.Int32
	maxFlight  atomic.Int32
	fetchDelay time.Duration
}

func (m *mockProviderClient) ListIDs(ctx context.Context, token *oauth2.Token, query string, pageToken string, maxResults int) (*IDPage, *oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	page, ok := m.pages[pageToken]
	if !ok {
		return nil, nil, errors.New("unknown page token")
	}
	if page == nil {
		return &IDPage{}, nil, nil
	}
	return page, nil, nil
}

func (m *mockProviderClient) FetchItem(ctx context.Context, token *oauth2.Token, id string) (*models.RawEvent, *oauth2.Token, error) {
	m.fetchCalls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.fetchDelay > 0 {
		time.Sleep(m.fetchDelay)
	}

	var rotated *oauth2.Token
	if id == m.rotateOn {
		rotated = &oauth2.Token{AccessToken: "access-2", Expiry: testOccurredAt.Add(time.Hour)}
	}
	if err := m.fetchErrs[id]; err != nil {
		return nil, rotated, err
	}
	event := &models.RawEvent{
		SourceID:   id,
		OccurredAt: testOccurredAt,
		Payload:    datatypes.JSON(`{"id":"` + id + `"}`),
		SourceMeta: models.JSONB{"subject": "hello " + id},
	}
	if m.broken[id] {
		event.OccurredAt = time.Time{}
	}
	return event, rotated, nil
}

func singlePage(ids ...string) *mockProviderClient {
	return &mockProviderClient{pages: map[string]*IDPage{"": {IDs: ids}}}
}

// mockEventStore keeps rows in memory keyed by source id.
type mockEventStore struct {
	mu       sync.Mutex
	rows     map[string]models.RawEvent
	latest   *time.Time
	latestEr error
	bulkErr  error
	oneErrs  map[string]error

	bulkCalls int
	oneCalls  int
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{rows: make(map[string]models.RawEvent)}
}

func (m *mockEventStore) UpsertMany(ctx context.Context, events []models.RawEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCalls++
	if m.bulkErr != nil {
		return 0, m.bulkErr
	}
	written := 0
	for _, e := range events {
		if !e.Ingestible() {
			continue
		}
		m.rows[e.SourceID] = e
		written++
	}
	return written, nil
}

func (m *mockEventStore) UpsertOne(ctx context.Context, event models.RawEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneCalls++
	if err := m.oneErrs[event.SourceID]; err != nil {
		return false, err
	}
	if !event.Ingestible() {
		return false, nil
	}
	m.rows[event.SourceID] = event
	return true, nil
}

func (m *mockEventStore) LatestCreatedAt(ctx context.Context, userID, provider string) (*time.Time, error) {
	return m.latest, m.latestEr
}

func (m *mockEventStore) ExistingSourceIDs(ctx context.Context, userID, provider string, sourceIDs []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]struct{})
	for _, id := range sourceIDs {
		if _, ok := m.rows[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (m *mockEventStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulkCalls + m.oneCalls
}

// mockJobStore creates jobs and reports statuses from a script.
type mockJobStore struct {
	mu        sync.Mutex
	created   []*models.Job
	createErr error
	statuses  []models.JobStatus // consumed per poll; the last one repeats
	polls     int
}

func (m *mockJobStore) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	job.ID = "job-" + job.BatchID
	m.created = append(m.created, job)
	return nil
}

func (m *mockJobStore) GetByBatchID(ctx context.Context, batchID, kind string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	status := models.JobStatusPending
	if len(m.statuses) > 0 {
		status = m.statuses[0]
		if len(m.statuses) > 1 {
			m.statuses = m.statuses[1:]
		}
	}
	return &models.Job{ID: "job-" + batchID, Kind: kind, BatchID: batchID, Status: status}, nil
}

type mockCredentials struct {
	session *oauth.Session
	err     error
}

func (m *mockCredentials) GetValidCredential(ctx context.Context, userID, service string) (*oauth.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

// recorder collects progress events.
type recorder struct {
	mu     sync.Mutex
	events []models.SyncProgressEvent
}

func (r *recorder) Report(event models.SyncProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []models.ProgressEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]models.ProgressEventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

func (r *recorder) last() models.SyncProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func noSleep(context.Context, time.Duration) {}

func newTestFetcher(store EventStore) *BatchFetcher {
	f := NewBatchFetcher(store, ratelimit.New(0, 1, 1), time.Millisecond, discardLogger())
	f.sleep = noSleep
	return f
}

func newTestOrchestrator(creds CredentialProvider, store *mockEventStore, jobs *mockJobStore) *SyncOrchestrator {
	logger := discardLogger()
	planner := NewSyncWindowPlanner(store, logger)
	planner.Now = func() time.Time { return testOccurredAt }
	limiter := ratelimit.New(0, 1, 1)
	o := NewSyncOrchestrator(
		creds,
		planner,
		NewRemoteLister(limiter, 0, logger),
		newTestFetcher(store),
		NewJobHandoff(jobs, logger),
		jobs,
		logger,
	)
	o.WaitPollInterval = time.Millisecond
	o.WaitCeiling = time.Second
	return o
}
