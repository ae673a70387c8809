package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"contabile/internal/core"
)

// The wire schema uses stable camelCase names that are independent of the
// legacy storage column names. The mapping lives here, in one place, so the
// internal schema can evolve without breaking snapshot compatibility.

// wireTime is the timestamp format on the wire.
const wireTime = time.RFC3339Nano

type wireDocument struct {
	Transactions []json.RawMessage `json:"transactions"`
	Assets       []json.RawMessage `json:"assets"`
	Categories   []json.RawMessage `json:"categories"`
}

type wireTransaction struct {
	UID          string  `json:"uid"`
	AssetUID     string  `json:"assetUid"`
	ToAssetUID   *string `json:"toAssetUid,omitempty"`
	CategoryUID  string  `json:"categoryUid"`
	Amount       int64   `json:"amount"`
	Currency     string  `json:"currency"`
	OccurredAt   string  `json:"occurredAt"`
	RecordedAt   string  `json:"recordedAt"`
	Kind         string  `json:"kind"`
	Paid         bool    `json:"paid"`
	Note         string  `json:"note"`
	Deleted      bool    `json:"deleted"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt"`
}

type wireAsset struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	GroupID      int     `json:"groupId"`
	Balance      int64   `json:"balance"`
	IsLiability  bool    `json:"isLiability"` // derived view, ignored on parse
	Deleted      bool    `json:"deleted"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt"`
}

type wireCategory struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	Icon         string  `json:"icon"`
	Color        string  `json:"color"`
	Kind         string  `json:"kind"`
	Deleted      bool    `json:"deleted"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt"`
}

// fieldSpec is one entry of a wire field table: the stable wire name and
// whether a document missing it is rejected.
type fieldSpec struct {
	name     string
	required bool
}

var (
	transactionFields = []fieldSpec{
		{"uid", true},
		{"assetUid", true},
		{"toAssetUid", false},
		{"categoryUid", false},
		{"amount", true},
		{"currency", true},
		{"occurredAt", true},
		{"recordedAt", true},
		{"kind", true},
		{"paid", false},
		{"note", false},
		{"deleted", true},
		{"syncVersion", true},
		{"lastSyncedAt", false},
	}

	assetFields = []fieldSpec{
		{"uid", true},
		{"name", true},
		{"groupId", true},
		{"balance", true},
		{"isLiability", false},
		{"deleted", true},
		{"syncVersion", true},
		{"lastSyncedAt", false},
	}

	categoryFields = []fieldSpec{
		{"uid", true},
		{"name", true},
		{"icon", false},
		{"color", false},
		{"kind", true},
		{"deleted", true},
		{"syncVersion", true},
		{"lastSyncedAt", false},
	}
)

// checkRequired verifies one raw entity object against its field table.
func checkRequired(raw json.RawMessage, fields []fieldSpec, class string, idx int) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: %s[%d] is not an object: %v", core.ErrMalformedSnapshot, class, idx, err)
	}
	for _, f := range fields {
		if !f.required {
			continue
		}
		if _, ok := obj[f.name]; !ok {
			return fmt.Errorf("%w: %s[%d] missing required field %q", core.ErrMalformedSnapshot, class, idx, f.name)
		}
	}
	return nil
}

func formatWireTime(t time.Time) string {
	return t.UTC().Format(wireTime)
}

func formatWireTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatWireTime(*t)
	return &s
}

func parseWireTime(s, field, class string, idx int) (time.Time, error) {
	t, err := time.Parse(wireTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s[%d] field %q: bad timestamp %q", core.ErrMalformedSnapshot, class, idx, field, s)
	}
	return t.UTC(), nil
}

func parseWireTimePtr(s *string, field, class string, idx int) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseWireTime(*s, field, class, idx)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toWireTransaction(t core.Transaction) wireTransaction {
	w := wireTransaction{
		UID:          t.UID,
		AssetUID:     t.AssetUID,
		CategoryUID:  t.CategoryUID,
		Amount:       t.Amount.Cents,
		Currency:     t.Amount.Currency,
		OccurredAt:   formatWireTime(t.OccurredAt),
		RecordedAt:   formatWireTime(t.RecordedAt),
		Kind:         string(t.Kind),
		Paid:         t.Paid,
		Note:         t.Note,
		Deleted:      t.Deleted,
		SyncVersion:  t.SyncVersion,
		LastSyncedAt: formatWireTimePtr(t.LastSyncedAt),
	}
	if t.ToAssetUID != "" {
		to := t.ToAssetUID
		w.ToAssetUID = &to
	}
	return w
}

func toWireAsset(a core.Asset) wireAsset {
	return wireAsset{
		UID:          a.UID,
		Name:         a.Name,
		GroupID:      a.GroupID,
		Balance:      a.Balance,
		IsLiability:  a.IsLiability(),
		Deleted:      a.Deleted,
		SyncVersion:  a.SyncVersion,
		LastSyncedAt: formatWireTimePtr(a.LastSyncedAt),
	}
}

func toWireCategory(c core.Category) wireCategory {
	return wireCategory{
		UID:          c.UID,
		Name:         c.Name,
		Icon:         c.Icon,
		Color:        c.Color,
		Kind:         string(c.Kind),
		Deleted:      c.Deleted,
		SyncVersion:  c.SyncVersion,
		LastSyncedAt: formatWireTimePtr(c.LastSyncedAt),
	}
}
