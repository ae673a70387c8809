package snapshot

import "contabile/internal/core"

// Action is the outcome of comparing one incoming snapshot row against the
// local row with the same uid.
type Action int

const (
	// ActionInsert: no local row exists; copy the incoming row verbatim,
	// sync version and tombstone flag included.
	ActionInsert Action = iota

	// ActionReplace: the incoming row wins; its fields overwrite the local
	// row (the local surrogate id is kept).
	ActionReplace

	// ActionKeepLocal: versions are equal and the local row stands. The row
	// now matches the remote source of truth, so it is marked synced.
	ActionKeepLocal

	// ActionSkip: the incoming row is strictly older and is ignored. The
	// local row keeps whatever dirty state it had.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionReplace:
		return "replace"
	case ActionKeepLocal:
		return "keep-local"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// Decide resolves one row conflict by sync version counter, never by
// wall-clock time, so the outcome is stable under clock skew between
// devices.
//
// On equal versions the non-deleted variant wins: an undelete beats a delete.
// When both sides agree on the tombstone flag the local row is kept, which
// makes merging a snapshot the store itself exported a no-op.
func Decide(hasLocal bool, local core.SyncMeta, incoming core.SyncMeta) Action {
	if !hasLocal {
		return ActionInsert
	}
	switch {
	case incoming.SyncVersion > local.SyncVersion:
		return ActionReplace
	case incoming.SyncVersion < local.SyncVersion:
		return ActionSkip
	}
	if local.Deleted && !incoming.Deleted {
		return ActionReplace
	}
	return ActionKeepLocal
}
