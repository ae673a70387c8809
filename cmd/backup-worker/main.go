package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"contabile/internal/amqp"
	"contabile/internal/backup"
	"contabile/internal/config"
	applog "contabile/internal/log"
	"contabile/internal/services"
	"contabile/internal/storage"
	"contabile/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting backup-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.OAuthTokenFile == "" {
		logger.Error("OAUTH_TOKEN_FILE is required; run cmd/oauth-init first")
		os.Exit(1)
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, err := backup.NewFileTokenSource(ctx, cfg.OAuthClientFile, cfg.OAuthTokenFile)
	if err != nil {
		logger.Error("Failed to load OAuth token", "error", err, "path", cfg.OAuthTokenFile)
		os.Exit(1)
	}

	transport := backup.NewClient(cfg.BackupUploadURL, cfg.BackupDownloadURL, cfg.BackupFileName)
	backupService := services.NewBackupService(repo, transport)

	backupWorker := worker.NewBackupWorker(backupService, tokens, worker.BackupWorkerConfig{
		PollInterval: cfg.BackupPollInterval,
		Debounce:     cfg.BackupDebounce,
	})

	// One-shot restore mode: `backup-worker restore [file-id]` merges the
	// remote snapshot into the local store and exits.
	if len(os.Args) > 1 && os.Args[1] == "restore" {
		fileID := ""
		if len(os.Args) > 2 {
			fileID = os.Args[2]
		}
		stats, err := backupWorker.RestoreLatest(ctx, fileID)
		if err != nil {
			logger.Error("Restore failed", "error", err, "file_id", fileID)
			os.Exit(1)
		}
		logger.Info("Restore completed",
			"inserted", stats.Inserted,
			"replaced", stats.Replaced,
			"kept_local", stats.KeptLocal,
			"skipped", stats.Skipped)
		return
	}

	if err := backupWorker.Start(ctx); err != nil {
		logger.Error("Failed to start backup worker", "error", err)
		os.Exit(1)
	}

	// Consume change events so backups follow edits closely instead of
	// waiting for the next poll. The broker is optional.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on polling only", "error", err)
		} else {
			defer amqpClient.Close()
			go func() {
				err := amqpClient.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
					slog.DebugContext(ctx, "Ledger event received",
						"entity", msg.Entity, "uid", msg.UID, "op", msg.Op)
					backupWorker.Notify()
					return nil
				})
				if err != nil && err != context.Canceled {
					logger.Error("Event consumption failed", "error", err)
					cancel()
				}
			}()
		}
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := backupWorker.Stop(shutdownCtx); err != nil {
		logger.Error("Backup worker shutdown error", "error", err)
	}
	cancel()

	logger.Info("Backup worker stopped")
}
