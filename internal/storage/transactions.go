package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"contabile/internal/core"

	"github.com/google/uuid"
)

const txnCols = "id, uid, asset_uid, to_asset_uid, cat_uid, amt, cur, occ_at, rec_at, knd, paid, note, del, synced, sv, ls_at"

// TransactionPatch holds the fields an update may change. Nil fields are
// left untouched.
type TransactionPatch struct {
	AssetUID    *string
	ToAssetUID  *string
	CategoryUID *string
	AmountCents *int64
	Currency    *string
	OccurredAt  *time.Time
	Kind        *core.Kind
	Paid        *bool
	Note        *string
}

// TransactionFilter narrows a Transactions query. The default ordering is
// insertion order (surrogate id descending) for display lists; callers that
// need chronological order set OrderByDate to sort by the occurred date.
type TransactionFilter struct {
	From           time.Time // inclusive occurred-at lower bound
	To             time.Time // inclusive occurred-at upper bound
	AssetUID       string
	CategoryUID    string
	Kind           core.Kind
	IncludeDeleted bool
	OrderByDate    bool
	Limit          int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t            core.Transaction
		occAt, recAt int64
		del, synced  int64
		paid         int64
		lsAt         sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UID, &t.AssetUID, &t.ToAssetUID, &t.CategoryUID,
		&t.Amount.Cents, &t.Amount.Currency, &occAt, &recAt, &t.Kind, &paid,
		&t.Note, &del, &synced, &t.SyncVersion, &lsAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.OccurredAt = fromMillis(occAt)
	t.RecordedAt = fromMillis(recAt)
	t.Paid = paid != 0
	t.Deleted = del != 0
	t.Synced = synced != 0
	t.LastSyncedAt = timePtr(lsAt)
	return t, nil
}

func getTransaction(ctx context.Context, q dbtx, uid string) (core.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+txnCols+` FROM txn WHERE uid = ?`, uid)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("%w: transaction %q", core.ErrNotFound, uid)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func insertTransaction(ctx context.Context, q dbtx, t core.Transaction) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO txn (uid, asset_uid, to_asset_uid, cat_uid, amt, cur, occ_at, rec_at, knd, paid, note, del, synced, sv, ls_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UID, t.AssetUID, t.ToAssetUID, t.CategoryUID, t.Amount.Cents, t.Amount.Currency,
		millis(t.OccurredAt), millis(t.RecordedAt), string(t.Kind), boolInt(t.Paid), t.Note,
		boolInt(t.Deleted), boolInt(t.Synced), t.SyncVersion, nullMillis(t.LastSyncedAt))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

func updateTransactionRow(ctx context.Context, q dbtx, t core.Transaction) error {
	_, err := q.ExecContext(ctx,
		`UPDATE txn SET asset_uid = ?, to_asset_uid = ?, cat_uid = ?, amt = ?, cur = ?,
		 occ_at = ?, rec_at = ?, knd = ?, paid = ?, note = ?, del = ?, synced = ?, sv = ?, ls_at = ?
		 WHERE uid = ?`,
		t.AssetUID, t.ToAssetUID, t.CategoryUID, t.Amount.Cents, t.Amount.Currency,
		millis(t.OccurredAt), millis(t.RecordedAt), string(t.Kind), boolInt(t.Paid), t.Note,
		boolInt(t.Deleted), boolInt(t.Synced), t.SyncVersion, nullMillis(t.LastSyncedAt), t.UID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// CreateTransaction validates and stores a new transaction. A missing uid is
// assigned; sync metadata starts at version 0, unsynced.
func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t.UID == "" {
		t.UID = uuid.NewString()
	}
	if t.Amount.Currency == "" {
		t.Amount.Currency = "EUR"
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	t.SyncMeta = core.SyncMeta{}

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer tx.Rollback()

	exists, err := uidExists(ctx, tx, "txn", t.UID)
	if err != nil {
		return core.Transaction{}, err
	}
	if exists {
		return core.Transaction{}, fmt.Errorf("%w: transaction uid %q already exists", core.ErrValidation, t.UID)
	}

	id, err := insertTransaction(ctx, tx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}
	t.ID = id

	slog.InfoContext(ctx, "Transaction created",
		"uid", t.UID,
		"kind", string(t.Kind),
		"amount_cents", t.Amount.Cents,
		"asset_uid", t.AssetUID)

	return t, nil
}

// UpdateTransaction applies a patch to a live transaction, bumps its sync
// version and clears the synced flag. Tombstoned rows are not updatable.
func (r *Repository) UpdateTransaction(ctx context.Context, uid string, patch TransactionPatch) (core.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, err := r.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer tx.Rollback()

	t, err := getTransaction(ctx, tx, uid)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Deleted {
		return core.Transaction{}, fmt.Errorf("%w: transaction %q", core.ErrNotFound, uid)
	}

	if patch.AssetUID != nil {
		t.AssetUID = *patch.AssetUID
	}
	if patch.ToAssetUID != nil {
		t.ToAssetUID = *patch.ToAssetUID
	}
	if patch.CategoryUID != nil {
		t.CategoryUID = *patch.CategoryUID
	}
	if patch.AmountCents != nil {
		t.Amount.Cents = *patch.AmountCents
	}
	if patch.Currency != nil {
		t.Amount.Currency = *patch.Currency
	}
	if patch.OccurredAt != nil {
		t.OccurredAt = *patch.OccurredAt
	}
	if patch.Kind != nil {
		t.Kind = *patch.Kind
	}
	if patch.Paid != nil {
		t.Paid = *patch.Paid
	}
	if patch.Note != nil {
		t.Note = *patch.Note
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	t.SyncVersion++
	t.Synced = false

	if err := updateTransactionRow(ctx, tx, t); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}

	slog.InfoContext(ctx, "Transaction updated", "uid", uid, "sync_version", t.SyncVersion)
	return t, nil
}

// SoftDeleteTransaction flips the tombstone flag and bumps the sync version.
// Deleting an already-deleted transaction is a pure no-op: the version is not
// bumped, so the tombstone keeps the version under which it was deleted.
func (r *Repository) SoftDeleteTransaction(ctx context.Context, uid string) error {
	return r.softDelete(ctx, ClassTransaction, uid)
}

func (r *Repository) softDelete(ctx context.Context, class EntityClass, uid string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table := classTables[class]
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var del int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT del FROM %s WHERE uid = ?`, table), uid).Scan(&del)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %q", core.ErrNotFound, class, uid)
	}
	if err != nil {
		return fmt.Errorf("%w: lookup %s: %w", core.ErrStorage, class, err)
	}
	if del != 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET del = 1, sv = sv + 1, synced = 0 WHERE uid = ?`, table), uid)
	if err != nil {
		return fmt.Errorf("%w: soft delete %s: %w", core.ErrStorage, class, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrStorage, err)
	}

	slog.InfoContext(ctx, "Record soft-deleted", "class", string(class), "uid", uid)
	return nil
}

// GetTransaction returns a transaction by uid, tombstoned or not.
func (r *Repository) GetTransaction(ctx context.Context, uid string) (core.Transaction, error) {
	return getTransaction(ctx, r.db, uid)
}

// Transactions returns transactions matching the filter.
func (r *Repository) Transactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "del = 0")
	}
	if !f.From.IsZero() {
		where = append(where, "occ_at >= ?")
		args = append(args, millis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "occ_at <= ?")
		args = append(args, millis(f.To))
	}
	if f.AssetUID != "" {
		where = append(where, "(asset_uid = ? OR to_asset_uid = ?)")
		args = append(args, f.AssetUID, f.AssetUID)
	}
	if f.CategoryUID != "" {
		where = append(where, "cat_uid = ?")
		args = append(args, f.CategoryUID)
	}
	if f.Kind != "" {
		where = append(where, "knd = ?")
		args = append(args, string(f.Kind))
	}

	query := `SELECT ` + txnCols + ` FROM txn`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OrderByDate {
		query += " ORDER BY occ_at DESC, id DESC"
	} else {
		query += " ORDER BY id DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
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

// AssetBalance computes an asset's live balance: its opening balance plus the
// signed sum of all non-deleted transactions referencing it. Transfers
// subtract the amount from the source asset and add it to the destination.
func (r *Repository) AssetBalance(ctx context.Context, assetUID string) (int64, error) {
	a, err := r.GetAsset(ctx, assetUID)
	if err != nil {
		return 0, err
	}
	if a.Deleted {
		return 0, fmt.Errorf("%w: asset %q", core.ErrNotFound, assetUID)
	}

	var delta sql.NullInt64
	err = r.db.QueryRowContext(ctx,
		`SELECT SUM(CASE
			WHEN asset_uid = ?1 AND knd = 'transfer' THEN -amt
			WHEN asset_uid = ?1 THEN amt
			WHEN to_asset_uid = ?1 AND knd = 'transfer' THEN amt
			ELSE 0
		 END)
		 FROM txn WHERE del = 0 AND (asset_uid = ?1 OR to_asset_uid = ?1)`, assetUID).Scan(&delta)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return a.Balance + delta.Int64, nil
}
