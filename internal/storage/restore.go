package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contabile/internal/core"
	"contabile/internal/snapshot"
)

// RestoreStats summarizes what one merge did.
type RestoreStats struct {
	Inserted  int
	Replaced  int
	KeptLocal int
	Skipped   int // conflicts ignored: incoming row strictly older
}

// ApplySnapshot merges an incoming snapshot into the store.
//
// The whole merge runs as one atomic transaction under the exclusive restore
// lock: local create/update/delete calls block until it completes, and any
// row failing shape validation aborts the entire restore, leaving the store
// exactly as it was. After a successful merge every applied row is marked
// synced at its resulting sync version.
func (r *Repository) ApplySnapshot(ctx context.Context, snap *snapshot.Snapshot) (RestoreStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats RestoreStats

	if err := validateSnapshotShape(snap); err != nil {
		return stats, err
	}

	tx, err := r.begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for _, in := range snap.Transactions {
		local, err := getTransaction(ctx, tx, in.UID)
		hasLocal := true
		if errors.Is(err, core.ErrNotFound) {
			hasLocal = false
		} else if err != nil {
			return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}

		action := snapshot.Decide(hasLocal, local.SyncMeta, in.SyncMeta)
		switch action {
		case snapshot.ActionInsert:
			in.Synced = true
			in.LastSyncedAt = &now
			if _, err := insertTransaction(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Inserted++
		case snapshot.ActionReplace:
			in.ID = local.ID
			in.Synced = true
			in.LastSyncedAt = &now
			if err := updateTransactionRow(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Replaced++
		case snapshot.ActionKeepLocal:
			if err := markSyncedInTx(ctx, tx, "txn", in.UID, local.SyncVersion, now); err != nil {
				return RestoreStats{}, err
			}
			stats.KeptLocal++
		case snapshot.ActionSkip:
			slog.DebugContext(ctx, "Conflict ignored, local row is newer",
				"class", "transaction", "uid", in.UID,
				"local_version", local.SyncVersion, "incoming_version", in.SyncVersion)
			stats.Skipped++
		}
	}

	for _, in := range snap.Assets {
		local, err := getAsset(ctx, tx, in.UID)
		hasLocal := true
		if errors.Is(err, core.ErrNotFound) {
			hasLocal = false
		} else if err != nil {
			return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}

		action := snapshot.Decide(hasLocal, local.SyncMeta, in.SyncMeta)
		switch action {
		case snapshot.ActionInsert:
			in.Synced = true
			in.LastSyncedAt = &now
			if _, err := insertAsset(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Inserted++
		case snapshot.ActionReplace:
			in.ID = local.ID
			in.Synced = true
			in.LastSyncedAt = &now
			if err := updateAssetRow(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Replaced++
		case snapshot.ActionKeepLocal:
			if err := markSyncedInTx(ctx, tx, "ast", in.UID, local.SyncVersion, now); err != nil {
				return RestoreStats{}, err
			}
			stats.KeptLocal++
		case snapshot.ActionSkip:
			slog.DebugContext(ctx, "Conflict ignored, local row is newer",
				"class", "asset", "uid", in.UID,
				"local_version", local.SyncVersion, "incoming_version", in.SyncVersion)
			stats.Skipped++
		}
	}

	for _, in := range snap.Categories {
		local, err := getCategory(ctx, tx, in.UID)
		hasLocal := true
		if errors.Is(err, core.ErrNotFound) {
			hasLocal = false
		} else if err != nil {
			return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}

		action := snapshot.Decide(hasLocal, local.SyncMeta, in.SyncMeta)
		switch action {
		case snapshot.ActionInsert:
			in.Synced = true
			in.LastSyncedAt = &now
			if _, err := insertCategory(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Inserted++
		case snapshot.ActionReplace:
			in.ID = local.ID
			in.Synced = true
			in.LastSyncedAt = &now
			if err := updateCategoryRow(ctx, tx, in); err != nil {
				return RestoreStats{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
			}
			stats.Replaced++
		case snapshot.ActionKeepLocal:
			if err := markSyncedInTx(ctx, tx, "cat", in.UID, local.SyncVersion, now); err != nil {
				return RestoreStats{}, err
			}
			stats.KeptLocal++
		case snapshot.ActionSkip:
			slog.DebugContext(ctx, "Conflict ignored, local row is newer",
				"class", "category", "uid", in.UID,
				"local_version", local.SyncVersion, "incoming_version", in.SyncVersion)
			stats.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return RestoreStats{}, fmt.Errorf("%w: commit restore: %w", core.ErrStorage, err)
	}

	slog.InfoContext(ctx, "Snapshot merged",
		"inserted", stats.Inserted,
		"replaced", stats.Replaced,
		"kept_local", stats.KeptLocal,
		"skipped", stats.Skipped)

	return stats, nil
}

func markSyncedInTx(ctx context.Context, q dbtx, table, uid string, atVersion int64, atTime time.Time) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET synced = 1, ls_at = ? WHERE uid = ? AND sv = ?`, table),
		atTime.UnixMilli(), uid, atVersion)
	if err != nil {
		return fmt.Errorf("%w: mark synced: %w", core.ErrStorage, err)
	}
	return nil
}

// validateSnapshotShape rejects rows that could not have come from a valid
// snapshot before any row is written, so the merge is all-or-nothing even
// for snapshots built in memory rather than parsed off the wire.
func validateSnapshotShape(snap *snapshot.Snapshot) error {
	for i, t := range snap.Transactions {
		if t.UID == "" {
			return fmt.Errorf("%w: transactions[%d] has empty uid", core.ErrMalformedSnapshot, i)
		}
		if !t.Kind.Valid() {
			return fmt.Errorf("%w: transactions[%d] has unknown kind %q", core.ErrMalformedSnapshot, i, t.Kind)
		}
		if t.SyncVersion < 0 {
			return fmt.Errorf("%w: transactions[%d] has negative syncVersion", core.ErrMalformedSnapshot, i)
		}
	}
	for i, a := range snap.Assets {
		if a.UID == "" {
			return fmt.Errorf("%w: assets[%d] has empty uid", core.ErrMalformedSnapshot, i)
		}
		if a.Name == "" {
			return fmt.Errorf("%w: assets[%d] has empty name", core.ErrMalformedSnapshot, i)
		}
		if a.SyncVersion < 0 {
			return fmt.Errorf("%w: assets[%d] has negative syncVersion", core.ErrMalformedSnapshot, i)
		}
	}
	for i, c := range snap.Categories {
		if c.UID == "" {
			return fmt.Errorf("%w: categories[%d] has empty uid", core.ErrMalformedSnapshot, i)
		}
		if c.Name == "" {
			return fmt.Errorf("%w: categories[%d] has empty name", core.ErrMalformedSnapshot, i)
		}
		if !c.Kind.ValidForCategory() {
			return fmt.Errorf("%w: categories[%d] has invalid kind %q", core.ErrMalformedSnapshot, i, c.Kind)
		}
		if c.SyncVersion < 0 {
			return fmt.Errorf("%w: categories[%d] has negative syncVersion", core.ErrMalformedSnapshot, i)
		}
	}
	return nil
}
