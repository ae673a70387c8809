package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindIncome   Kind = "income"
	KindExpense  Kind = "expense"
	KindTransfer Kind = "transfer"
)

type (
	// Kind classifies a transaction or a category.
	Kind string

	// Money is an amount in minor units (cents) with its currency code.
	Money struct {
		Cents    int64
		Currency string
	}

	// SyncMeta carries the per-record synchronization bookkeeping shared by
	// all entity classes. SyncVersion only ever increases; every local
	// mutation increments it and clears Synced.
	SyncMeta struct {
		Deleted      bool
		Synced       bool
		SyncVersion  int64
		LastSyncedAt *time.Time
	}

	// Transaction is a single ledger movement. ID is the local surrogate key
	// and never leaves this store; UID is the identity compared across
	// devices and snapshots.
	Transaction struct {
		ID          int64
		UID         string
		AssetUID    string
		ToAssetUID  string // set only for transfers
		CategoryUID string
		Amount      Money
		OccurredAt  time.Time // user-specified transaction date
		RecordedAt  time.Time // write timestamp, not interchangeable with OccurredAt
		Kind        Kind
		Paid        bool
		Note        string
		SyncMeta
	}

	Asset struct {
		ID      int64
		UID     string
		Name    string
		GroupID int
		Balance int64 // opening balance in minor units; live balance adds transactions
		SyncMeta
	}

	Category struct {
		ID    int64
		UID   string
		Name  string
		Icon  string
		Color string
		Kind  Kind // income or expense only
		SyncMeta
	}
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer:
		return true
	}
	return false
}

// ValidForCategory reports whether k is allowed on a category. Transfers are
// a transaction-only concept.
func (k Kind) ValidForCategory() bool {
	return k == KindIncome || k == KindExpense
}

func (t Transaction) Validate() error {
	if t.Amount.Cents == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	if strings.TrimSpace(t.AssetUID) == "" {
		return fmt.Errorf("%w: asset uid is required", ErrValidation)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, t.Kind)
	}
	if t.Kind == KindTransfer {
		if strings.TrimSpace(t.ToAssetUID) == "" {
			return fmt.Errorf("%w: transfer requires a destination asset", ErrValidation)
		}
		if t.ToAssetUID == t.AssetUID {
			return fmt.Errorf("%w: transfer source and destination must differ", ErrValidation)
		}
	} else if t.ToAssetUID != "" {
		return fmt.Errorf("%w: destination asset is only valid on transfers", ErrValidation)
	}
	if t.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred date is required", ErrValidation)
	}
	if len(t.Note) > 500 {
		return fmt.Errorf("%w: note too long (max 500 characters)", ErrValidation)
	}
	return nil
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: asset name is required", ErrValidation)
	}
	if len(a.Name) > 100 {
		return fmt.Errorf("%w: asset name too long (max 100 characters)", ErrValidation)
	}
	if _, ok := AssetGroupByID(a.GroupID); !ok {
		return fmt.Errorf("%w: unknown asset group %d", ErrValidation, a.GroupID)
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name is required", ErrValidation)
	}
	if len(c.Name) > 100 {
		return fmt.Errorf("%w: category name too long (max 100 characters)", ErrValidation)
	}
	if !c.Kind.ValidForCategory() {
		return fmt.Errorf("%w: category kind must be income or expense, got %q", ErrValidation, c.Kind)
	}
	return nil
}

// IsLiability derives the liability classification from the asset's group.
// It is never stored on the asset itself, so it cannot diverge from the
// taxonomy.
func (a Asset) IsLiability() bool {
	g, ok := AssetGroupByID(a.GroupID)
	return ok && g.IsLiability
}
