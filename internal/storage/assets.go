package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"contabile/internal/core"

	"github.com/google/uuid"
)

const astCols = "id, uid, name, grp, bal, del, synced, sv, ls_at"

// AssetPatch holds the asset fields an update may change.
type AssetPatch struct {
	Name    *string
	GroupID *int
	Balance *int64
}

func scanAsset(row rowScanner) (core.Asset, error) {
	var (
		a           core.Asset
		del, synced int64
		lsAt        sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.UID, &a.Name, &a.GroupID, &a.Balance, &del, &synced, &a.SyncVersion, &lsAt)
	if err != nil {
		return core.Asset{}, err
	}
	a.Deleted = del != 0
	a.Synced = synced != 0
	a.LastSyncedAt = timePtr(lsAt)
	return a, nil
}

func getAsset(ctx context.Context, q dbtx, uid string) (core.Asset, error) {
	row := q.QueryRowContext(ctx, `SELECT `+astCols+` FROM ast WHERE uid = ?`, uid)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Asset{}, fmt.Errorf("%w: asset %q", core.ErrNotFound, uid)
	}
	if err != nil {
		return core.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

func insertAsset(ctx context.Context, q dbtx, a core.Asset) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO ast (uid, name, grp, bal, del, synced, sv, ls_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UID, a.Name, a.GroupID, a.Balance, boolInt(a.Deleted), boolInt(a.Synced),
		a.SyncVersion, nullMillis(a.LastSyncedAt))
	if err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}
	return res.LastInsertId()
}

func updateAssetRow(ctx context.Context, q dbtx, a core.Asset) error {
	_, err := q.ExecContext(ctx,
		`UPDATE ast SET name = ?, grp = ?, bal = ?, del = ?, synced = ?, sv = ?, ls_at = ? WHERE uid = ?`,
		a.Name, a.GroupID, a.Balance, boolInt(a.Deleted), boolInt(a.Synced),
		a.SyncVersion, nullMillis(a.LastSyncedAt), a.UID)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

// CreateAsset validates and stores a new asset. Names are unique among live
// assets, compared case-insensitively.
func (r *Repository) CreateAsset(ctx context.Context, a core.Asset) (core.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a.UID == "" {
		a.UID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return core.Asset{}, err
	}
	a.SyncMeta = core.SyncMeta{}

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Asset{}, err
	}
	defer tx.Rollback()

	exists, err := uidExists(ctx, tx, "ast", a.UID)
	if err != nil {
		return core.Asset{}, err
	}
	if exists {
		return core.Asset{}, fmt.Errorf("%w: asset uid %q already exists", core.ErrValidation, a.UID)
	}
	taken, err := nameTaken(ctx, tx, "ast", a.Name, a.UID)
	if err != nil {
		return core.Asset{}, err
	}
	if taken {
		return core.Asset{}, fmt.Errorf("%w: asset name %q already in use", core.ErrValidation, a.Name)
	}

	id, err := insertAsset(ctx, tx, a)
	if err != nil {
		return core.Asset{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Asset{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}
	a.ID = id

	slog.InfoContext(ctx, "Asset created", "uid", a.UID, "name", a.Name, "group", a.GroupID)
	return a, nil
}

// UpdateAsset applies a patch to a live asset, bumps its sync version and
// clears the synced flag.
func (r *Repository) UpdateAsset(ctx context.Context, uid string, patch AssetPatch) (core.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Asset{}, err
	}
	defer tx.Rollback()

	a, err := getAsset(ctx, tx, uid)
	if err != nil {
		return core.Asset{}, err
	}
	if a.Deleted {
		return core.Asset{}, fmt.Errorf("%w: asset %q", core.ErrNotFound, uid)
	}

	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.GroupID != nil {
		a.GroupID = *patch.GroupID
	}
	if patch.Balance != nil {
		a.Balance = *patch.Balance
	}
	if err := a.Validate(); err != nil {
		return core.Asset{}, err
	}

	if patch.Name != nil {
		taken, err := nameTaken(ctx, tx, "ast", a.Name, uid)
		if err != nil {
			return core.Asset{}, err
		}
		if taken {
			return core.Asset{}, fmt.Errorf("%w: asset name %q already in use", core.ErrValidation, a.Name)
		}
	}

	a.SyncVersion++
	a.Synced = false

	if err := updateAssetRow(ctx, tx, a); err != nil {
		return core.Asset{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Asset{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}

	slog.InfoContext(ctx, "Asset updated", "uid", uid, "sync_version", a.SyncVersion)
	return a, nil
}

// SoftDeleteAsset tombstones an asset; re-deleting is a no-op.
func (r *Repository) SoftDeleteAsset(ctx context.Context, uid string) error {
	return r.softDelete(ctx, ClassAsset, uid)
}

// GetAsset returns an asset by uid, tombstoned or not.
func (r *Repository) GetAsset(ctx context.Context, uid string) (core.Asset, error) {
	return getAsset(ctx, r.db, uid)
}

// Assets lists assets in insertion order (surrogate id descending),
// excluding tombstones unless includeDeleted is set.
func (r *Repository) Assets(ctx context.Context, includeDeleted bool) ([]core.Asset, error) {
	query := `SELECT ` + astCols + ` FROM ast`
	if !includeDeleted {
		query += ` WHERE del = 0`
	}
	query += ` ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
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
