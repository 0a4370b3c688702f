package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/tendwell-worker/internal/config"
	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/service"
)

type mockCredentialLister struct {
	byService map[string][]models.IntegrationCredential
	errs      map[string]error
}

func (m *mockCredentialLister) ListByService(ctx context.Context, provider, svc string) ([]models.IntegrationCredential, error) {
	if err := m.errs[svc]; err != nil {
		return nil, err
	}
	return m.byService[svc], nil
}

type syncCall struct {
	userID   string
	provider string
	opts     models.SyncOptions
}

type mockSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	errs  map[string]error
}

func (m *mockSyncer) Sync(ctx context.Context, userID string, src service.Source, opts models.SyncOptions, progress service.ProgressReporter) (*service.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, syncCall{userID: userID, provider: src.Provider, opts: opts})
	return &service.SyncResult{UserID: userID}, m.errs[userID]
}

func (m *mockSyncer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestWatcher(lister CredentialLister, syncer Syncer) *Watcher {
	cfg := &config.Config{SyncInterval: time.Hour, OverlapHours: 2, DaysBack: 30}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, lister, syncer, logger,
		service.EmailSource(nil, 0, 0),
		service.CalendarSource(nil, 0, 0),
	)
}

func TestSyncAll(t *testing.T) {
	lister := &mockCredentialLister{byService: map[string][]models.IntegrationCredential{
		models.ServiceGmail:    {{UserID: "u1"}, {UserID: "u2"}},
		models.ServiceCalendar: {{UserID: "u1"}},
	}}
	syncer := &mockSyncer{errs: map[string]error{
		"u1": &oauth.AuthError{UserID: "u1", Permanent: true, Err: errors.New("invalid_grant")},
	}}

	newTestWatcher(lister, syncer).syncAll(context.Background())

	require.Len(t, syncer.calls, 3)
	assert.Equal(t, syncCall{"u1", models.ProviderGmail, models.SyncOptions{Incremental: true, OverlapHours: 2, DaysBack: 30}}, syncer.calls[0])
	assert.Equal(t, "u2", syncer.calls[1].userID)
	assert.Equal(t, models.ProviderGoogleCalendar, syncer.calls[2].provider)
}

func TestSyncAll_ListFailureSkipsSource(t *testing.T) {
	lister := &mockCredentialLister{
		byService: map[string][]models.IntegrationCredential{
			models.ServiceCalendar: {{UserID: "u1"}},
		},
		errs: map[string]error{models.ServiceGmail: errors.New("connection refused")},
	}
	syncer := &mockSyncer{}

	newTestWatcher(lister, syncer).syncAll(context.Background())

	require.Len(t, syncer.calls, 1)
	assert.Equal(t, models.ProviderGoogleCalendar, syncer.calls[0].provider)
}

func TestStart_StopsOnCancel(t *testing.T) {
	lister := &mockCredentialLister{byService: map[string][]models.IntegrationCredential{
		models.ServiceGmail: {{UserID: "u1"}},
	}}
	syncer := &mockSyncer{}
	w := newTestWatcher(lister, syncer)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
