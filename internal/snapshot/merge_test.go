package snapshot

import (
	"testing"

	"contabile/internal/core"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		hasLocal bool
		local    core.SyncMeta
		incoming core.SyncMeta
		want     Action
	}{
		{
			name:     "no local row inserts",
			hasLocal: false,
			incoming: core.SyncMeta{SyncVersion: 3},
			want:     ActionInsert,
		},
		{
			name:     "no local row inserts tombstones too",
			hasLocal: false,
			incoming: core.SyncMeta{SyncVersion: 2, Deleted: true},
			want:     ActionInsert,
		},
		{
			name:     "higher incoming version replaces",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 1},
			incoming: core.SyncMeta{SyncVersion: 4},
			want:     ActionReplace,
		},
		{
			name:     "higher incoming tombstone replaces live row",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 2},
			incoming: core.SyncMeta{SyncVersion: 3, Deleted: true},
			want:     ActionReplace,
		},
		{
			name:     "lower incoming version is skipped",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 5},
			incoming: core.SyncMeta{SyncVersion: 2},
			want:     ActionSkip,
		},
		{
			name:     "lower incoming tombstone is skipped",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 5},
			incoming: core.SyncMeta{SyncVersion: 4, Deleted: true},
			want:     ActionSkip,
		},
		{
			name:     "equal versions keep local",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 3},
			incoming: core.SyncMeta{SyncVersion: 3},
			want:     ActionKeepLocal,
		},
		{
			name:     "equal versions both deleted keep local",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 3, Deleted: true},
			incoming: core.SyncMeta{SyncVersion: 3, Deleted: true},
			want:     ActionKeepLocal,
		},
		{
			name:     "equal versions undelete beats local tombstone",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 3, Deleted: true},
			incoming: core.SyncMeta{SyncVersion: 3},
			want:     ActionReplace,
		},
		{
			name:     "equal versions local live row survives incoming tombstone",
			hasLocal: true,
			local:    core.SyncMeta{SyncVersion: 3},
			incoming: core.SyncMeta{SyncVersion: 3, Deleted: true},
			want:     ActionKeepLocal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.hasLocal, tt.local, tt.incoming)
			if got != tt.want {
				t.Fatalf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}
