package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"

	"contabile/internal/core"
)

// Marshal serializes a snapshot to the portable wire document. The output is
// deterministic: each entity array is ordered by uid and field order is fixed
// by the wire structs.
func Marshal(s *Snapshot) ([]byte, error) {
	txns := make([]core.Transaction, len(s.Transactions))
	copy(txns, s.Transactions)
	sort.Slice(txns, func(i, j int) bool { return txns[i].UID < txns[j].UID })

	assets := make([]core.Asset, len(s.Assets))
	copy(assets, s.Assets)
	sort.Slice(assets, func(i, j int) bool { return assets[i].UID < assets[j].UID })

	cats := make([]core.Category, len(s.Categories))
	copy(cats, s.Categories)
	sort.Slice(cats, func(i, j int) bool { return cats[i].UID < cats[j].UID })

	doc := struct {
		Transactions []wireTransaction `json:"transactions"`
		Assets       []wireAsset       `json:"assets"`
		Categories   []wireCategory    `json:"categories"`
	}{
		Transactions: make([]wireTransaction, 0, len(txns)),
		Assets:       make([]wireAsset, 0, len(assets)),
		Categories:   make([]wireCategory, 0, len(cats)),
	}
	for _, t := range txns {
		doc.Transactions = append(doc.Transactions, toWireTransaction(t))
	}
	for _, a := range assets {
		doc.Assets = append(doc.Assets, toWireAsset(a))
	}
	for _, c := range cats {
		doc.Categories = append(doc.Categories, toWireCategory(c))
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a wire document. It fails with
// core.ErrMalformedSnapshot when a required field is missing, an enum value
// is unknown, a timestamp does not parse, or a uid appears twice within one
// entity array. A malformed document is never partially accepted.
func Parse(data []byte) (*Snapshot, error) {
	var doc wireDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedSnapshot, err)
	}

	snap := &Snapshot{}

	seen := make(map[string]struct{}, len(doc.Transactions))
	for i, raw := range doc.Transactions {
		if err := checkRequired(raw, transactionFields, "transactions", i); err != nil {
			return nil, err
		}
		var w wireTransaction
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: transactions[%d]: %v", core.ErrMalformedSnapshot, i, err)
		}
		t, err := fromWireTransaction(w, i)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t.UID]; dup {
			return nil, fmt.Errorf("%w: duplicate transaction uid %q", core.ErrMalformedSnapshot, t.UID)
		}
		seen[t.UID] = struct{}{}
		snap.Transactions = append(snap.Transactions, t)
	}

	seen = make(map[string]struct{}, len(doc.Assets))
	for i, raw := range doc.Assets {
		if err := checkRequired(raw, assetFields, "assets", i); err != nil {
			return nil, err
		}
		var w wireAsset
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: assets[%d]: %v", core.ErrMalformedSnapshot, i, err)
		}
		a, err := fromWireAsset(w, i)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[a.UID]; dup {
			return nil, fmt.Errorf("%w: duplicate asset uid %q", core.ErrMalformedSnapshot, a.UID)
		}
		seen[a.UID] = struct{}{}
		snap.Assets = append(snap.Assets, a)
	}

	seen = make(map[string]struct{}, len(doc.Categories))
	for i, raw := range doc.Categories {
		if err := checkRequired(raw, categoryFields, "categories", i); err != nil {
			return nil, err
		}
		var w wireCategory
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: categories[%d]: %v", core.ErrMalformedSnapshot, i, err)
		}
		c, err := fromWireCategory(w, i)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[c.UID]; dup {
			return nil, fmt.Errorf("%w: duplicate category uid %q", core.ErrMalformedSnapshot, c.UID)
		}
		seen[c.UID] = struct{}{}
		snap.Categories = append(snap.Categories, c)
	}

	return snap, nil
}

func fromWireTransaction(w wireTransaction, idx int) (core.Transaction, error) {
	if w.UID == "" {
		return core.Transaction{}, fmt.Errorf("%w: transactions[%d] has empty uid", core.ErrMalformedSnapshot, idx)
	}
	if !core.Kind(w.Kind).Valid() {
		return core.Transaction{}, fmt.Errorf("%w: transactions[%d] has unknown kind %q", core.ErrMalformedSnapshot, idx, w.Kind)
	}
	if w.SyncVersion < 0 {
		return core.Transaction{}, fmt.Errorf("%w: transactions[%d] has negative syncVersion", core.ErrMalformedSnapshot, idx)
	}
	occ, err := parseWireTime(w.OccurredAt, "occurredAt", "transactions", idx)
	if err != nil {
		return core.Transaction{}, err
	}
	rec, err := parseWireTime(w.RecordedAt, "recordedAt", "transactions", idx)
	if err != nil {
		return core.Transaction{}, err
	}
	lsAt, err := parseWireTimePtr(w.LastSyncedAt, "lastSyncedAt", "transactions", idx)
	if err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		UID:         w.UID,
		AssetUID:    w.AssetUID,
		CategoryUID: w.CategoryUID,
		Amount:      core.Money{Cents: w.Amount, Currency: w.Currency},
		OccurredAt:  occ,
		RecordedAt:  rec,
		Kind:        core.Kind(w.Kind),
		Paid:        w.Paid,
		Note:        w.Note,
	}
	if w.ToAssetUID != nil {
		t.ToAssetUID = *w.ToAssetUID
	}
	t.Deleted = w.Deleted
	t.SyncVersion = w.SyncVersion
	t.LastSyncedAt = lsAt
	return t, nil
}

func fromWireAsset(w wireAsset, idx int) (core.Asset, error) {
	if w.UID == "" {
		return core.Asset{}, fmt.Errorf("%w: assets[%d] has empty uid", core.ErrMalformedSnapshot, idx)
	}
	if w.Name == "" {
		return core.Asset{}, fmt.Errorf("%w: assets[%d] has empty name", core.ErrMalformedSnapshot, idx)
	}
	if w.SyncVersion < 0 {
		return core.Asset{}, fmt.Errorf("%w: assets[%d] has negative syncVersion", core.ErrMalformedSnapshot, idx)
	}
	lsAt, err := parseWireTimePtr(w.LastSyncedAt, "lastSyncedAt", "assets", idx)
	if err != nil {
		return core.Asset{}, err
	}

	// isLiability on the wire is a derived convenience for consumers; the
	// taxonomy stays authoritative, so the flag is not copied in.
	a := core.Asset{
		UID:     w.UID,
		Name:    w.Name,
		GroupID: w.GroupID,
		Balance: w.Balance,
	}
	a.Deleted = w.Deleted
	a.SyncVersion = w.SyncVersion
	a.LastSyncedAt = lsAt
	return a, nil
}

func fromWireCategory(w wireCategory, idx int) (core.Category, error) {
	if w.UID == "" {
		return core.Category{}, fmt.Errorf("%w: categories[%d] has empty uid", core.ErrMalformedSnapshot, idx)
	}
	if w.Name == "" {
		return core.Category{}, fmt.Errorf("%w: categories[%d] has empty name", core.ErrMalformedSnapshot, idx)
	}
	if !core.Kind(w.Kind).ValidForCategory() {
		return core.Category{}, fmt.Errorf("%w: categories[%d] has invalid kind %q", core.ErrMalformedSnapshot, idx, w.Kind)
	}
	if w.SyncVersion < 0 {
		return core.Category{}, fmt.Errorf("%w: categories[%d] has negative syncVersion", core.ErrMalformedSnapshot, idx)
	}
	lsAt, err := parseWireTimePtr(w.LastSyncedAt, "lastSyncedAt", "categories", idx)
	if err != nil {
		return core.Category{}, err
	}

	c := core.Category{
		UID:   w.UID,
		Name:  w.Name,
		Icon:  w.Icon,
		Color: w.Color,
		Kind:  core.Kind(w.Kind),
	}
	c.Deleted = w.Deleted
	c.SyncVersion = w.SyncVersion
	c.LastSyncedAt = lsAt
	return c, nil
}
