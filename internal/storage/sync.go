package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"contabile/internal/core"
	"contabile/internal/snapshot"
)

// DirtyTransactions returns all transactions with the synced flag cleared,
// tombstones included; these are the rows the next backup must carry.
func (r *Repository) DirtyTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+txnCols+` FROM txn WHERE synced = 0 ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("query dirty transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DirtyAssets returns all assets with the synced flag cleared.
func (r *Repository) DirtyAssets(ctx context.Context) ([]core.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+astCols+` FROM ast WHERE synced = 0 ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("query dirty assets: %w", err)
	}
	defer rows.Close()

	var out []core.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DirtyCategories returns all categories with the synced flag cleared.
func (r *Repository) DirtyCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+catCols+` FROM cat WHERE synced = 0 ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("query dirty categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DirtyCount returns how many rows across all entity classes still need to
// be pushed.
func (r *Repository) DirtyCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM txn WHERE synced = 0)
		      + (SELECT COUNT(*) FROM ast WHERE synced = 0)
		      + (SELECT COUNT(*) FROM cat WHERE synced = 0)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dirty rows: %w", err)
	}
	return n, nil
}

// MarkSynced flips the synced flag and records the sync time, but only when
// the row's current sync version still equals atVersion. A newer local edit
// that raced in after the export snapshot was taken keeps the row dirty for
// the next cycle. Returns whether the flag was applied.
func (r *Repository) MarkSynced(ctx context.Context, class EntityClass, uid string, atVersion int64, atTime time.Time) (bool, error) {
	table, ok := classTables[class]
	if !ok {
		return false, fmt.Errorf("%w: unknown entity class %q", core.ErrValidation, class)
	}

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET synced = 1, ls_at = ? WHERE uid = ? AND sv = ?`, table),
		atTime.UnixMilli(), uid, atVersion)
	if err != nil {
		return false, fmt.Errorf("%w: mark synced: %w", core.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark synced rows affected: %w", err)
	}
	if n == 0 {
		slog.DebugContext(ctx, "Mark synced skipped, version moved on",
			"class", string(class), "uid", uid, "at_version", atVersion)
	}
	return n > 0, nil
}

// ExportSnapshot reads every row of every entity class, tombstones included,
// in one transaction so the snapshot observes a single consistent
// point-in-time view of the store. Rows are ordered by uid.
func (r *Repository) ExportSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &snapshot.Snapshot{}

	rows, err := tx.QueryContext(ctx, `SELECT `+txnCols+` FROM txn ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("export transactions: %w", err)
	}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		snap.Transactions = append(snap.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `SELECT `+astCols+` FROM ast ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("export assets: %w", err)
	}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		snap.Assets = append(snap.Assets, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `SELECT `+catCols+` FROM cat ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("export categories: %w", err)
	}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		snap.Categories = append(snap.Categories, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	slog.InfoContext(ctx, "Snapshot exported",
		"transactions", len(snap.Transactions),
		"assets", len(snap.Assets),
		"categories", len(snap.Categories))

	return snap, nil
}
