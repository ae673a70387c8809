package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"contabile/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustCreateAsset(t *testing.T, repo *Repository, name string, groupID int, balance int64) core.Asset {
	t.Helper()
	a, err := repo.CreateAsset(context.Background(), core.Asset{Name: name, GroupID: groupID, Balance: balance})
	if err != nil {
		t.Fatalf("create asset %q: %v", name, err)
	}
	return a
}

func mustCreateTxn(t *testing.T, repo *Repository, txn core.Transaction) core.Transaction {
	t.Helper()
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	}
	created, err := repo.CreateTransaction(context.Background(), txn)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return created
}

func TestTransactionLifecycleBumpsVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	asset := mustCreateAsset(t, repo, "Checking", 3, 0)

	created := mustCreateTxn(t, repo, core.Transaction{
		AssetUID: asset.UID,
		Amount:   core.Money{Cents: -1500},
		Kind:     core.KindExpense,
		Note:     "coffee",
	})
	if created.UID == "" {
		t.Fatalf("create did not assign a uid")
	}
	if created.SyncVersion != 0 || created.Synced {
		t.Fatalf("new row should start at version 0, unsynced: %+v", created.SyncMeta)
	}
	if created.Amount.Currency != "EUR" {
		t.Fatalf("default currency not applied: %q", created.Amount.Currency)
	}

	note := "espresso"
	updated, err := repo.UpdateTransaction(ctx, created.UID, TransactionPatch{Note: &note})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.SyncVersion != 1 {
		t.Fatalf("update should bump version to 1, got %d", updated.SyncVersion)
	}
	if updated.Synced {
		t.Fatalf("update should clear the synced flag")
	}

	if err := repo.SoftDeleteTransaction(ctx, created.UID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := repo.GetTransaction(ctx, created.UID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if !got.Deleted {
		t.Fatalf("soft delete should set the tombstone flag")
	}
	if got.SyncVersion != 2 {
		t.Fatalf("soft delete should bump version to 2, got %d", got.SyncVersion)
	}

	// Deleting a tombstone is a pure no-op: the version stays put.
	if err := repo.SoftDeleteTransaction(ctx, created.UID); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
	got, err = repo.GetTransaction(ctx, created.UID)
	if err != nil {
		t.Fatalf("get after re-delete: %v", err)
	}
	if got.SyncVersion != 2 {
		t.Fatalf("re-delete must not bump the version, got %d", got.SyncVersion)
	}

	// Tombstoned rows are not updatable.
	if _, err := repo.UpdateTransaction(ctx, created.UID, TransactionPatch{Note: &note}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("updating a tombstone: want ErrNotFound, got %v", err)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateTransaction(context.Background(), core.Transaction{
		AssetUID:   "ast-1",
		Amount:     core.Money{Cents: 0},
		Kind:       core.KindExpense,
		OccurredAt: time.Now(),
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("zero amount: want ErrValidation, got %v", err)
	}

	_, err = repo.CreateTransaction(context.Background(), core.Transaction{
		AssetUID:   "ast-1",
		ToAssetUID: "ast-1",
		Amount:     core.Money{Cents: 100},
		Kind:       core.KindTransfer,
		OccurredAt: time.Now(),
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("self-transfer: want ErrValidation, got %v", err)
	}
}

func TestAssetNameCollision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustCreateAsset(t, repo, "Wallet", 1, 0)

	if _, err := repo.CreateAsset(ctx, core.Asset{Name: "wallet", GroupID: 1}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("case-insensitive duplicate: want ErrValidation, got %v", err)
	}

	// After tombstoning the name is free again.
	other := mustCreateAsset(t, repo, "Spare", 1, 0)
	assets, err := repo.Assets(ctx, false)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("want 2 live assets, got %d", len(assets))
	}
	first := assets[0]
	if first.UID != other.UID {
		t.Fatalf("default listing should be newest-first, got %q first", first.Name)
	}

	if err := repo.SoftDeleteAsset(ctx, first.UID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := repo.CreateAsset(ctx, core.Asset{Name: "Spare", GroupID: 1}); err != nil {
		t.Fatalf("reusing a tombstoned name: %v", err)
	}
}

func TestTransactionsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	checking := mustCreateAsset(t, repo, "Checking", 3, 0)
	savings := mustCreateAsset(t, repo, "Savings", 4, 0)

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	t1 := mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, Amount: core.Money{Cents: -100}, Kind: core.KindExpense, OccurredAt: mar})
	t2 := mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, Amount: core.Money{Cents: 5000}, Kind: core.KindIncome, OccurredAt: jan})
	t3 := mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, ToAssetUID: savings.UID, Amount: core.Money{Cents: 2000}, Kind: core.KindTransfer, OccurredAt: feb})

	// Default order is insertion order, newest row first.
	all, err := repo.Transactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].UID != t3.UID || all[2].UID != t1.UID {
		t.Fatalf("default ordering wrong: %v", uids(all))
	}

	// Chronological order is opt-in.
	byDate, err := repo.Transactions(ctx, TransactionFilter{OrderByDate: true})
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if byDate[0].UID != t1.UID || byDate[2].UID != t2.UID {
		t.Fatalf("date ordering wrong: %v", uids(byDate))
	}

	// Date range.
	ranged, err := repo.Transactions(ctx, TransactionFilter{From: feb, To: feb})
	if err != nil {
		t.Fatalf("ranged list: %v", err)
	}
	if len(ranged) != 1 || ranged[0].UID != t3.UID {
		t.Fatalf("range filter wrong: %v", uids(ranged))
	}

	// Asset filter matches both sides of a transfer.
	forSavings, err := repo.Transactions(ctx, TransactionFilter{AssetUID: savings.UID})
	if err != nil {
		t.Fatalf("asset list: %v", err)
	}
	if len(forSavings) != 1 || forSavings[0].UID != t3.UID {
		t.Fatalf("asset filter should include transfer destinations: %v", uids(forSavings))
	}

	// Kind filter.
	incomes, err := repo.Transactions(ctx, TransactionFilter{Kind: core.KindIncome})
	if err != nil {
		t.Fatalf("kind list: %v", err)
	}
	if len(incomes) != 1 || incomes[0].UID != t2.UID {
		t.Fatalf("kind filter wrong: %v", uids(incomes))
	}

	// Tombstones drop out by default.
	if err := repo.SoftDeleteTransaction(ctx, t2.UID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	live, err := repo.Transactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("want 2 live rows, got %d", len(live))
	}
	withDeleted, err := repo.Transactions(ctx, TransactionFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list with deleted: %v", err)
	}
	if len(withDeleted) != 3 {
		t.Fatalf("want 3 rows including tombstones, got %d", len(withDeleted))
	}

	// Limit.
	limited, err := repo.Transactions(ctx, TransactionFilter{IncludeDeleted: true, Limit: 2})
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit not applied, got %d rows", len(limited))
	}
}

func uids(txns []core.Transaction) []string {
	out := make([]string, len(txns))
	for i, t := range txns {
		out[i] = t.UID
	}
	return out
}

func TestAssetBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	checking := mustCreateAsset(t, repo, "Checking", 3, 10000)
	savings := mustCreateAsset(t, repo, "Savings", 4, 0)

	// Income, expense, and a transfer out of checking into savings.
	mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, Amount: core.Money{Cents: 30000}, Kind: core.KindIncome})
	expense := mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, Amount: core.Money{Cents: -4500}, Kind: core.KindExpense})
	mustCreateTxn(t, repo, core.Transaction{AssetUID: checking.UID, ToAssetUID: savings.UID, Amount: core.Money{Cents: 20000}, Kind: core.KindTransfer})

	got, err := repo.AssetBalance(ctx, checking.UID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := int64(10000 + 30000 - 4500 - 20000); got != want {
		t.Fatalf("checking balance = %d, want %d", got, want)
	}

	got, err = repo.AssetBalance(ctx, savings.UID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := int64(20000); got != want {
		t.Fatalf("savings balance = %d, want %d", got, want)
	}

	// Tombstoned transactions no longer count.
	if err := repo.SoftDeleteTransaction(ctx, expense.UID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err = repo.AssetBalance(ctx, checking.UID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := int64(10000 + 30000 - 20000); got != want {
		t.Fatalf("checking balance after delete = %d, want %d", got, want)
	}
}

func TestMarkSyncedCompareAndSet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	asset := mustCreateAsset(t, repo, "Wallet", 1, 0)
	now := time.Now().UTC()

	applied, err := repo.MarkSynced(ctx, ClassAsset, asset.UID, asset.SyncVersion, now)
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if !applied {
		t.Fatalf("mark synced at the current version should apply")
	}
	got, err := repo.GetAsset(ctx, asset.UID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Synced || got.LastSyncedAt == nil {
		t.Fatalf("synced flag not recorded: %+v", got.SyncMeta)
	}

	// A local edit raced in: marking at the stale version must not apply.
	name := "Cash"
	if _, err := repo.UpdateAsset(ctx, asset.UID, AssetPatch{Name: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}
	applied, err = repo.MarkSynced(ctx, ClassAsset, asset.UID, asset.SyncVersion, now)
	if err != nil {
		t.Fatalf("mark synced stale: %v", err)
	}
	if applied {
		t.Fatalf("mark synced at a stale version must not apply")
	}
	got, err = repo.GetAsset(ctx, asset.UID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Synced {
		t.Fatalf("row must stay dirty after the raced edit")
	}

	if _, err := repo.MarkSynced(ctx, EntityClass("bogus"), asset.UID, 0, now); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unknown class: want ErrValidation, got %v", err)
	}
}

func TestDirtyTracking(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	asset := mustCreateAsset(t, repo, "Wallet", 1, 0)
	cat, err := repo.CreateCategory(ctx, core.Category{Name: "Food", Kind: core.KindExpense})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	txn := mustCreateTxn(t, repo, core.Transaction{AssetUID: asset.UID, CategoryUID: cat.UID, Amount: core.Money{Cents: -100}, Kind: core.KindExpense})

	n, err := repo.DirtyCount(ctx)
	if err != nil {
		t.Fatalf("dirty count: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 dirty rows, got %d", n)
	}

	now := time.Now().UTC()
	for _, mark := range []struct {
		class EntityClass
		uid   string
	}{
		{ClassAsset, asset.UID},
		{ClassCategory, cat.UID},
		{ClassTransaction, txn.UID},
	} {
		if _, err := repo.MarkSynced(ctx, mark.class, mark.uid, 0, now); err != nil {
			t.Fatalf("mark synced %s: %v", mark.class, err)
		}
	}

	n, err = repo.DirtyCount(ctx)
	if err != nil {
		t.Fatalf("dirty count: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 dirty rows after sync, got %d", n)
	}

	// A tombstone is dirty again and must surface in the dirty set.
	if err := repo.SoftDeleteTransaction(ctx, txn.UID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	dirty, err := repo.DirtyTransactions(ctx)
	if err != nil {
		t.Fatalf("dirty transactions: %v", err)
	}
	if len(dirty) != 1 || dirty[0].UID != txn.UID || !dirty[0].Deleted {
		t.Fatalf("tombstone missing from dirty set: %+v", dirty)
	}
}

func TestPreferences(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetPreference(ctx, "currency"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing preference: want ErrNotFound, got %v", err)
	}
	if err := repo.SetPreference(ctx, "", "x"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty key: want ErrValidation, got %v", err)
	}

	if err := repo.SetPreference(ctx, "currency", "EUR"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.SetPreference(ctx, "currency", "USD"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := repo.GetPreference(ctx, "currency")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "USD" {
		t.Fatalf("preference = %q, want USD", got)
	}

	prefs, err := repo.Preferences(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(prefs) != 1 || prefs["currency"] != "USD" {
		t.Fatalf("preferences = %v", prefs)
	}
}
