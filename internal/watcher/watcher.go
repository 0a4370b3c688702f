package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vipul43/tendwell-worker/internal/config"
	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/service"
)

// CredentialLister lists the users connected to a service.
type CredentialLister interface {
	ListByService(ctx context.Context, provider, service string) ([]models.IntegrationCredential, error)
}

// Syncer runs one sync.
type Syncer interface {
	Sync(ctx context.Context, userID string, src service.Source, opts models.SyncOptions, progress service.ProgressReporter) (*service.SyncResult, error)
}

// Watcher runs an incremental sync for every connected user on a fixed interval.
type Watcher struct {
	cfg         *config.Config
	credentials CredentialLister
	syncer      Syncer
	sources     []service.Source
	logger      *slog.Logger
}

func New(cfg *config.Config, credentials CredentialLister, syncer Syncer, logger *slog.Logger, sources ...service.Source) *Watcher {
	return &Watcher{
		cfg:         cfg,
		credentials: credentials,
		syncer:      syncer,
		sources:     sources,
		logger:      logger.With("component", "watcher"),
	}
}

// Start syncs once immediately, then on every tick until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("starting watcher", "interval", w.cfg.SyncInterval, "sources", len(w.sources))

	w.syncAll(ctx)

	ticker := time.NewTicker(w.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll runs every source for every connected user. One user's failure never
// stops the others.
func (w *Watcher) syncAll(ctx context.Context) {
	for _, src := range w.sources {
		if ctx.Err() != nil {
			return
		}

		creds, err := w.credentials.ListByService(ctx, models.CredentialProviderGoogle, src.Service)
		if err != nil {
			w.logger.Error("failed to list credentials", "service", src.Service, "error", err)
			continue
		}

		for _, cred := range creds {
			if ctx.Err() != nil {
				return
			}
			w.syncUser(ctx, cred.UserID, src)
		}
	}
}

func (w *Watcher) syncUser(ctx context.Context, userID string, src service.Source) {
	opts := models.SyncOptions{
		Incremental:  true,
		OverlapHours: w.cfg.OverlapHours,
		DaysBack:     w.cfg.DaysBack,
	}

	_, err := w.syncer.Sync(ctx, userID, src, opts, nil)
	if err == nil {
		return
	}

	var authErr *oauth.AuthError
	if errors.As(err, &authErr) && authErr.Permanent {
		w.logger.Warn("user must reconnect", "user_id", userID, "service", src.Service, "error", err)
		return
	}
	w.logger.Error("sync failed", "user_id", userID, "provider", src.Provider, "error", err)
}
