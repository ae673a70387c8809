// Package storage is the single source of truth for the ledger. All reads
// and writes of transactions, assets, categories and preferences pass through
// the Repository; no other component touches the database file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"contabile/internal/core"

	_ "modernc.org/sqlite"
)

// EntityClass names one of the three ledger tables for operations that are
// generic over the class, such as MarkSynced.
type EntityClass string

const (
	ClassTransaction EntityClass = "transaction"
	ClassAsset       EntityClass = "asset"
	ClassCategory    EntityClass = "category"
)

var classTables = map[EntityClass]string{
	ClassTransaction: "txn",
	ClassAsset:       "ast",
	ClassCategory:    "cat",
}

// Repository owns the SQLite ledger store.
//
// Writes are serialized through a single connection (MaxOpenConns=1), so
// operations issued in sequence on one device apply in that sequence. The
// restore lock is held exclusively for the whole merge transaction; local
// mutations block until an in-flight restore completes rather than failing
// with a busy error.
type Repository struct {
	db *sql.DB
	mu sync.RWMutex // held exclusively during restore, shared by mutations
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so row helpers can run
// inside or outside an explicit transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetPreference returns the value stored under key, or core.ErrNotFound.
func (r *Repository) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: preference %q", core.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// SetPreference stores a key-value preference, replacing any previous value.
func (r *Repository) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: preference key is required", core.ErrValidation)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// Preferences returns all stored preferences.
func (r *Repository) Preferences(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM prefs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

// millis converts a time to the unix-millisecond representation used by the
// legacy schema. Zero times map to 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nameTaken reports whether a live row of the given table already uses the
// name, case-insensitively, excluding the row identified by uid.
func nameTaken(ctx context.Context, q dbtx, table, name, uid string) (bool, error) {
	var n int
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE lower(name) = lower(?) AND del = 0 AND uid <> ?`, table)
	if err := q.QueryRowContext(ctx, query, name, uid).Scan(&n); err != nil {
		return false, fmt.Errorf("check name collision: %w", err)
	}
	return n > 0, nil
}

func uidExists(ctx context.Context, q dbtx, table, uid string) (bool, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE uid = ?`, table)
	if err := q.QueryRowContext(ctx, query, uid).Scan(&n); err != nil {
		return false, fmt.Errorf("check uid: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", core.ErrStorage, err)
	}
	return tx, nil
}
