package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"contabile/internal/amqp"
	"contabile/internal/backup"
	"contabile/internal/config"
	apphttp "contabile/internal/http"
	applog "contabile/internal/log"
	"contabile/internal/reminder"
	"contabile/internal/services"
	"contabile/internal/storage"
	"contabile/internal/worker"
)

// changeNotifier fans committed ledger mutations out to the event bus and the
// in-process backup worker. Publishing is best-effort; the worker's poll loop
// covers anything a lost event would have triggered.
type changeNotifier struct {
	events *amqp.Client
	worker *worker.BackupWorker
}

func (n *changeNotifier) LedgerChanged(ctx context.Context, entity, uid, op string, version int64) {
	if n.events != nil {
		msg := amqp.NewLedgerEventMessage(entity, uid, op, version)
		if err := n.events.PublishLedgerEvent(ctx, msg); err != nil {
			slog.WarnContext(ctx, "Failed to publish ledger event",
				"error", err, "entity", entity, "uid", uid)
		}
	}
	if n.worker != nil {
		n.worker.Notify()
	}
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting contabile")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	transport := backup.NewClient(cfg.BackupUploadURL, cfg.BackupDownloadURL, cfg.BackupFileName)
	backupService := services.NewBackupService(repo, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The backup worker only runs in-process when a token file is configured;
	// without one, backups stay manual through POST /api/backup.
	var backupWorker *worker.BackupWorker
	if cfg.OAuthTokenFile != "" {
		tokens, err := backup.NewFileTokenSource(ctx, cfg.OAuthClientFile, cfg.OAuthTokenFile)
		if err != nil {
			logger.Error("Failed to load OAuth token", "error", err, "path", cfg.OAuthTokenFile)
			os.Exit(1)
		}
		backupWorker = worker.NewBackupWorker(backupService, tokens, worker.BackupWorkerConfig{
			PollInterval: cfg.BackupPollInterval,
			Debounce:     cfg.BackupDebounce,
		})
		if err := backupWorker.Start(ctx); err != nil {
			logger.Error("Failed to start backup worker", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("Automatic backups disabled - no OAUTH_TOKEN_FILE provided")
	}

	var events *amqp.Client
	if cfg.AMQPURL != "" {
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, continuing without event publishing", "error", err)
			events = nil
		} else {
			defer events.Close()
			logger.Info("AMQP event publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	scheduler := reminder.NewLogScheduler()
	restoreReminder(ctx, repo, scheduler)

	notifier := &changeNotifier{events: events, worker: backupWorker}

	srv := apphttp.NewServer(":"+cfg.Port, repo, backupService, scheduler, notifier)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Run the server and the shutdown watcher together; either one failing
	// brings the other down through the group context.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting contabile server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if backupWorker != nil {
			if err := backupWorker.Stop(shutdownCtx); err != nil {
				logger.Error("Backup worker shutdown error", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// restoreReminder re-applies the persisted reminder slot after a restart so a
// scheduled reminder survives process restarts.
func restoreReminder(ctx context.Context, repo *storage.Repository, scheduler reminder.Scheduler) {
	slot, err := repo.GetPreference(ctx, "reminder.slot")
	if err != nil || slot == "" || slot == "off" {
		return
	}
	at, err := time.Parse("15:04", slot)
	if err != nil {
		slog.WarnContext(ctx, "Ignoring malformed reminder slot", "slot", slot)
		return
	}
	if err := scheduler.Enable(ctx, at.Hour(), at.Minute()); err != nil {
		slog.WarnContext(ctx, "Failed to restore reminder", "error", err, "slot", slot)
	}
}
