// Package worker runs the background backup loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"contabile/internal/services"
	"contabile/internal/storage"
)

// TokenSource supplies a fresh bearer token for each backup attempt so token
// refresh stays outside the worker.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BackupWorkerConfig holds the worker's timing knobs.
type BackupWorkerConfig struct {
	// PollInterval is how often the worker checks for dirty rows even
	// without a change notification (default: 5m).
	PollInterval time.Duration

	// Debounce is how long the worker waits after a change notification
	// before backing up, so a burst of edits produces one upload (default: 10s).
	Debounce time.Duration
}

func DefaultBackupWorkerConfig() BackupWorkerConfig {
	return BackupWorkerConfig{
		PollInterval: 5 * time.Minute,
		Debounce:     10 * time.Second,
	}
}

// BackupWorker pushes the ledger to the remote store whenever local rows are
// dirty. It is woken by change notifications and additionally polls on an
// interval to catch missed notifications.
type BackupWorker struct {
	service *services.BackupService
	tokens  TokenSource
	config  BackupWorkerConfig

	notifyCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewBackupWorker(service *services.BackupService, tokens TokenSource, config BackupWorkerConfig) *BackupWorker {
	return &BackupWorker{
		service:  service,
		tokens:   tokens,
		config:   config,
		notifyCh: make(chan struct{}, 1),
	}
}

// Start begins the backup loop. Returns an error if already running.
func (w *BackupWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("backup worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Backup worker started",
		"poll_interval", w.config.PollInterval,
		"debounce", w.config.Debounce)

	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (w *BackupWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Backup worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Backup worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// IsRunning returns whether the worker is currently running.
func (w *BackupWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Notify wakes the worker after a local mutation. Non-blocking; notifications
// collapse while a cycle is pending.
func (w *BackupWorker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

func (w *BackupWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	pollTicker := time.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()

	// Catch up on anything left dirty by a previous run.
	w.backupIfDirty(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			w.backupIfDirty(ctx)
		case <-w.notifyCh:
			if !w.debounce(ctx) {
				return
			}
			w.backupIfDirty(ctx)
		}
	}
}

// debounce waits out the quiet period after a notification, absorbing any
// further notifications that arrive meanwhile. Returns false when the worker
// should shut down instead.
func (w *BackupWorker) debounce(ctx context.Context) bool {
	if w.config.Debounce <= 0 {
		return true
	}
	timer := time.NewTimer(w.config.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-w.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-w.notifyCh:
			// Another edit landed; keep waiting for the burst to end.
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.config.Debounce)
		case <-timer.C:
			return true
		}
	}
}

func (w *BackupWorker) backupIfDirty(ctx context.Context) {
	pending, err := w.service.PendingRows(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to count pending rows", "error", err)
		return
	}
	if pending == 0 {
		return
	}

	token, err := w.tokens.Token(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to obtain backup token", "error", err)
		return
	}

	result, err := w.service.Backup(ctx, token)
	if err != nil {
		// Rows stay dirty; the next poll or notification retries.
		slog.ErrorContext(ctx, "Backup cycle failed", "error", err, "pending", pending)
		return
	}

	slog.InfoContext(ctx, "Backup cycle completed",
		"file_id", result.FileID,
		"rows", result.Rows,
		"marked_synced", result.Marked)
}

// RestoreLatest pulls the most recent known backup into the store, used by
// the worker binary's restore mode.
func (w *BackupWorker) RestoreLatest(ctx context.Context, fileID string) (storage.RestoreStats, error) {
	token, err := w.tokens.Token(ctx)
	if err != nil {
		return storage.RestoreStats{}, fmt.Errorf("obtain token: %w", err)
	}
	return w.service.Restore(ctx, token, fileID)
}
