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

const catCols = "id, uid, name, icon, color, knd, del, synced, sv, ls_at"

// CategoryPatch holds the category fields an update may change.
type CategoryPatch struct {
	Name  *string
	Icon  *string
	Color *string
	Kind  *core.Kind
}

func scanCategory(row rowScanner) (core.Category, error) {
	var (
		c           core.Category
		del, synced int64
		lsAt        sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.UID, &c.Name, &c.Icon, &c.Color, &c.Kind, &del, &synced, &c.SyncVersion, &lsAt)
	if err != nil {
		return core.Category{}, err
	}
	c.Deleted = del != 0
	c.Synced = synced != 0
	c.LastSyncedAt = timePtr(lsAt)
	return c, nil
}

func getCategory(ctx context.Context, q dbtx, uid string) (core.Category, error) {
	row := q.QueryRowContext(ctx, `SELECT `+catCols+` FROM cat WHERE uid = ?`, uid)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("%w: category %q", core.ErrNotFound, uid)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func insertCategory(ctx context.Context, q dbtx, c core.Category) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO cat (uid, name, icon, color, knd, del, synced, sv, ls_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UID, c.Name, c.Icon, c.Color, string(c.Kind), boolInt(c.Deleted), boolInt(c.Synced),
		c.SyncVersion, nullMillis(c.LastSyncedAt))
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return res.LastInsertId()
}

func updateCategoryRow(ctx context.Context, q dbtx, c core.Category) error {
	_, err := q.ExecContext(ctx,
		`UPDATE cat SET name = ?, icon = ?, color = ?, knd = ?, del = ?, synced = ?, sv = ?, ls_at = ? WHERE uid = ?`,
		c.Name, c.Icon, c.Color, string(c.Kind), boolInt(c.Deleted), boolInt(c.Synced),
		c.SyncVersion, nullMillis(c.LastSyncedAt), c.UID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

// CreateCategory validates and stores a new category. Names are unique among
// live categories, compared case-insensitively.
func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c.UID == "" {
		c.UID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	c.SyncMeta = core.SyncMeta{}

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Category{}, err
	}
	defer tx.Rollback()

	exists, err := uidExists(ctx, tx, "cat", c.UID)
	if err != nil {
		return core.Category{}, err
	}
	if exists {
		return core.Category{}, fmt.Errorf("%w: category uid %q already exists", core.ErrValidation, c.UID)
	}
	taken, err := nameTaken(ctx, tx, "cat", c.Name, c.UID)
	if err != nil {
		return core.Category{}, err
	}
	if taken {
		return core.Category{}, fmt.Errorf("%w: category name %q already in use", core.ErrValidation, c.Name)
	}

	id, err := insertCategory(ctx, tx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Category{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}
	c.ID = id

	slog.InfoContext(ctx, "Category created", "uid", c.UID, "name", c.Name, "kind", string(c.Kind))
	return c, nil
}

// UpdateCategory applies a patch to a live category, bumps its sync version
// and clears the synced flag.
func (r *Repository) UpdateCategory(ctx context.Context, uid string, patch CategoryPatch) (core.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Category{}, err
	}
	defer tx.Rollback()

	c, err := getCategory(ctx, tx, uid)
	if err != nil {
		return core.Category{}, err
	}
	if c.Deleted {
		return core.Category{}, fmt.Errorf("%w: category %q", core.ErrNotFound, uid)
	}

	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Icon != nil {
		c.Icon = *patch.Icon
	}
	if patch.Color != nil {
		c.Color = *patch.Color
	}
	if patch.Kind != nil {
		c.Kind = *patch.Kind
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	if patch.Name != nil {
		taken, err := nameTaken(ctx, tx, "cat", c.Name, uid)
		if err != nil {
			return core.Category{}, err
		}
		if taken {
			return core.Category{}, fmt.Errorf("%w: category name %q already in use", core.ErrValidation, c.Name)
		}
	}

	c.SyncVersion++
	c.Synced = false

	if err := updateCategoryRow(ctx, tx, c); err != nil {
		return core.Category{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Category{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}

	slog.InfoContext(ctx, "Category updated", "uid", uid, "sync_version", c.SyncVersion)
	return c, nil
}

// SoftDeleteCategory tombstones a category; re-deleting is a no-op.
func (r *Repository) SoftDeleteCategory(ctx context.Context, uid string) error {
	return r.softDelete(ctx, ClassCategory, uid)
}

// GetCategory returns a category by uid, tombstoned or not.
func (r *Repository) GetCategory(ctx context.Context, uid string) (core.Category, error) {
	return getCategory(ctx, r.db, uid)
}

// Categories lists categories, optionally filtered by kind, excluding
// tombstones unless includeDeleted is set.
func (r *Repository) Categories(ctx context.Context, kind core.Kind, includeDeleted bool) ([]core.Category, error) {
	query := `SELECT ` + catCols + ` FROM cat WHERE 1=1`
	var args []any
	if !includeDeleted {
		query += ` AND del = 0`
	}
	if kind != "" {
		query += ` AND knd = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
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
