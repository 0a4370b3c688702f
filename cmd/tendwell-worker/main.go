package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vipul43/tendwell-worker/internal/calendar"
	"github.com/vipul43/tendwell-worker/internal/config"
	"github.com/vipul43/tendwell-worker/internal/database"
	"github.com/vipul43/tendwell-worker/internal/gmail"
	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/ratelimit"
	"github.com/vipul43/tendwell-worker/internal/repository"
	"github.com/vipul43/tendwell-worker/internal/service"
	"github.com/vipul43/tendwell-worker/internal/tokencrypt"
	"github.com/vipul43/tendwell-worker/internal/watcher"
)

type flags struct {
	userID string
	source string
	full   bool
	wait   bool
}

func main() {
	var f flags
	flag.StringVar(&f.userID, "user", "", "sync a single user once and exit")
	flag.StringVar(&f.source, "source", "gmail", "source for -user: gmail or calendar")
	flag.BoolVar(&f.full, "full", false, "with -user, ignore the watermark and sync the full window")
	flag.BoolVar(&f.wait, "wait", false, "with -user, wait for the normalization job to finish")
	flag.Parse()

	if err := run(f); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	logger.Info("database connected")

	logger.Info("running database migrations")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	logger.Info("migrations completed")

	cipher, err := tokencrypt.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}

	// Repositories
	credentialRepo := repository.NewCredentialRepository(db, cipher)
	rawEventRepo := repository.NewRawEventRepository(db)
	jobRepo := repository.NewJobRepository(db)

	// OAuth
	googleConfig := oauth.GoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret)
	tokens := oauth.NewManager(credentialRepo, oauth.NewTokenRefresher(googleConfig), logger)

	// Providers
	gmailSource := service.EmailSource(gmail.NewClient(googleConfig), cfg.EmailBatchSize, cfg.EmailParallel)
	calendarSource := service.CalendarSource(calendar.NewClient(googleConfig), cfg.CalendarBatchSize, cfg.CalendarParallel)

	// Pipeline
	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.MaxPageRetries)
	orchestrator := service.NewSyncOrchestrator(
		tokens,
		service.NewSyncWindowPlanner(rawEventRepo, logger),
		service.NewRemoteLister(limiter, cfg.MaxItems, logger),
		service.NewBatchFetcher(rawEventRepo, limiter, cfg.WavePause, logger),
		service.NewJobHandoff(jobRepo, logger),
		jobRepo,
		logger,
	)
	orchestrator.WaitCeiling = cfg.WaitCeiling
	orchestrator.WaitPollInterval = cfg.WaitPollInterval

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drain := func() {
		orchestrator.Wait()
		tokens.Wait()
	}

	if f.userID != "" {
		src := gmailSource
		if f.source == "calendar" {
			src = calendarSource
		}
		err := syncOnce(ctx, orchestrator, f, src, oneShotOptions(cfg, f))
		drain()
		return err
	}

	w := watcher.New(cfg, credentialRepo, orchestrator, logger, gmailSource, calendarSource)

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		done := make(chan struct{})
		go func() {
			if err := <-errChan; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher error", "error", err)
			}
			drain()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("shutdown timeout exceeded")
		}

		logger.Info("application stopped")
		return nil

	case err := <-errChan:
		drain()
		return err
	}
}

// syncOnce runs one user's sync in the foreground, printing progress events as
// JSON lines on stdout.
func syncOnce(ctx context.Context, orchestrator *service.SyncOrchestrator, f flags, src service.Source, opts models.SyncOptions) error {
	encoder := json.NewEncoder(os.Stdout)

	if f.wait {
		progress := service.ProgressFunc(func(event models.SyncProgressEvent) {
			_ = encoder.Encode(event)
		})
		result, err := orchestrator.SyncAndWait(ctx, f.userID, src, opts, progress)
		var timeout *service.WaitTimeoutError
		if errors.As(err, &timeout) {
			slog.Warn("normalization still running", "batch_id", timeout.BatchID, "job_id", timeout.JobID)
			return nil
		}
		if err != nil {
			return err
		}
		if result.Job != nil {
			slog.Info("normalization finished", "batch_id", result.BatchID, "status", result.Job.Status)
		}
		return nil
	}

	var last models.SyncProgressEvent
	for event := range orchestrator.Stream(ctx, f.userID, src, opts) {
		_ = encoder.Encode(event)
		last = event
	}
	if last.Type == models.ProgressError {
		return fmt.Errorf("sync failed: %s", last.Error)
	}
	return nil
}

// oneShotOptions uses the same window settings as the watcher.
func oneShotOptions(cfg *config.Config, f flags) models.SyncOptions {
	return models.SyncOptions{
		Incremental:  !f.full,
		OverlapHours: cfg.OverlapHours,
		DaysBack:     cfg.DaysBack,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
