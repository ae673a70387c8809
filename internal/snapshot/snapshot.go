// Package snapshot defines the portable backup document: the wire schema,
// the codec between store state and document bytes, and the merge decision
// rules used when a downloaded snapshot is applied to the local store.
package snapshot

import "contabile/internal/core"

// Snapshot is a complete point-in-time copy of all three entity tables,
// tombstones included, each slice ordered by uid.
type Snapshot struct {
	Transactions []core.Transaction
	Assets       []core.Asset
	Categories   []core.Category
}

// Empty reports whether the snapshot carries no rows at all.
func (s *Snapshot) Empty() bool {
	return len(s.Transactions) == 0 && len(s.Assets) == 0 && len(s.Categories) == 0
}

// Rows returns the total row count across all entity classes.
func (s *Snapshot) Rows() int {
	return len(s.Transactions) + len(s.Assets) + len(s.Categories)
}
