// Package services holds the use-case orchestration between the ledger
// store, the snapshot codec and the remote transport.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"contabile/internal/core"
	"contabile/internal/snapshot"
	"contabile/internal/storage"
)

// Transport moves snapshot documents to and from the remote store.
type Transport interface {
	Upload(ctx context.Context, token string, data []byte) (string, error)
	Download(ctx context.Context, token, fileID string) ([]byte, error)
}

// Store is the slice of the repository the backup service needs.
type Store interface {
	ExportSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
	ApplySnapshot(ctx context.Context, snap *snapshot.Snapshot) (storage.RestoreStats, error)
	MarkSynced(ctx context.Context, class storage.EntityClass, uid string, atVersion int64, atTime time.Time) (bool, error)
	DirtyCount(ctx context.Context) (int64, error)
	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)
}

// Preference keys the backup service maintains.
const (
	PrefLastBackupAt  = "backup.last_at"
	PrefLastBackupID  = "backup.last_file_id"
	PrefLastRestoreAt = "backup.last_restore_at"
)

// BackupService runs full-snapshot backups and restores. Rows are marked
// synced only after the remote store confirms the upload, and only at the
// version that was exported, so edits racing in mid-backup stay dirty.
type BackupService struct {
	store     Store
	transport Transport
	now       func() time.Time
}

func NewBackupService(store Store, transport Transport) *BackupService {
	return &BackupService{
		store:     store,
		transport: transport,
		now:       time.Now,
	}
}

// BackupResult reports what one backup cycle did.
type BackupResult struct {
	FileID string
	Rows   int
	Marked int
}

// Backup exports the full ledger, uploads it, and marks the exported rows
// synced at their exported versions. A failed upload leaves every row dirty.
func (s *BackupService) Backup(ctx context.Context, token string) (BackupResult, error) {
	snap, err := s.store.ExportSnapshot(ctx)
	if err != nil {
		return BackupResult{}, fmt.Errorf("export ledger: %w", err)
	}

	data, err := snapshot.Marshal(snap)
	if err != nil {
		return BackupResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	fileID, err := s.transport.Upload(ctx, token, data)
	if err != nil {
		return BackupResult{}, fmt.Errorf("upload snapshot: %w", err)
	}

	now := s.now().UTC()
	result := BackupResult{FileID: fileID, Rows: snap.Rows()}

	for _, t := range snap.Transactions {
		ok, err := s.store.MarkSynced(ctx, storage.ClassTransaction, t.UID, t.SyncVersion, now)
		if err != nil {
			return result, fmt.Errorf("mark transaction synced: %w", err)
		}
		if ok {
			result.Marked++
		}
	}
	for _, a := range snap.Assets {
		ok, err := s.store.MarkSynced(ctx, storage.ClassAsset, a.UID, a.SyncVersion, now)
		if err != nil {
			return result, fmt.Errorf("mark asset synced: %w", err)
		}
		if ok {
			result.Marked++
		}
	}
	for _, c := range snap.Categories {
		ok, err := s.store.MarkSynced(ctx, storage.ClassCategory, c.UID, c.SyncVersion, now)
		if err != nil {
			return result, fmt.Errorf("mark category synced: %w", err)
		}
		if ok {
			result.Marked++
		}
	}

	if err := s.store.SetPreference(ctx, PrefLastBackupAt, now.Format(time.RFC3339)); err != nil {
		slog.WarnContext(ctx, "Failed to record backup time", "error", err)
	}
	if err := s.store.SetPreference(ctx, PrefLastBackupID, fileID); err != nil {
		slog.WarnContext(ctx, "Failed to record backup file id", "error", err)
	}

	slog.InfoContext(ctx, "Backup completed",
		"file_id", fileID,
		"rows", result.Rows,
		"marked_synced", result.Marked)

	return result, nil
}

// Restore downloads a snapshot file, parses it, and merges it into the local
// store. A malformed document changes nothing locally.
func (s *BackupService) Restore(ctx context.Context, token, fileID string) (storage.RestoreStats, error) {
	if fileID == "" {
		var err error
		fileID, err = s.store.GetPreference(ctx, PrefLastBackupID)
		if err != nil {
			return storage.RestoreStats{}, fmt.Errorf("%w: no backup file id known, pass one explicitly", core.ErrNotFound)
		}
	}

	data, err := s.transport.Download(ctx, token, fileID)
	if err != nil {
		return storage.RestoreStats{}, fmt.Errorf("download snapshot: %w", err)
	}

	snap, err := snapshot.Parse(data)
	if err != nil {
		return storage.RestoreStats{}, err
	}

	stats, err := s.store.ApplySnapshot(ctx, snap)
	if err != nil {
		return storage.RestoreStats{}, err
	}

	if err := s.store.SetPreference(ctx, PrefLastRestoreAt, s.now().UTC().Format(time.RFC3339)); err != nil {
		slog.WarnContext(ctx, "Failed to record restore time", "error", err)
	}

	slog.InfoContext(ctx, "Restore completed",
		"file_id", fileID,
		"inserted", stats.Inserted,
		"replaced", stats.Replaced,
		"kept_local", stats.KeptLocal,
		"skipped", stats.Skipped)

	return stats, nil
}

// PendingRows reports how many rows still need a backup.
func (s *BackupService) PendingRows(ctx context.Context) (int64, error) {
	return s.store.DirtyCount(ctx)
}
