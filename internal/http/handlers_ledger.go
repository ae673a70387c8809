package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"contabile/internal/core"
	"contabile/internal/storage"
)

// API representation of a transaction. Amounts travel as minor units plus a
// display string; timestamps are RFC3339.
type transactionJSON struct {
	UID          string  `json:"uid"`
	AssetUID     string  `json:"assetUid"`
	ToAssetUID   string  `json:"toAssetUid,omitempty"`
	CategoryUID  string  `json:"categoryUid,omitempty"`
	AmountCents  int64   `json:"amountCents"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	OccurredAt   string  `json:"occurredAt"`
	RecordedAt   string  `json:"recordedAt"`
	Kind         string  `json:"kind"`
	Paid         bool    `json:"paid"`
	Note         string  `json:"note,omitempty"`
	Deleted      bool    `json:"deleted"`
	Synced       bool    `json:"synced"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt,omitempty"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	out := transactionJSON{
		UID:         t.UID,
		AssetUID:    t.AssetUID,
		ToAssetUID:  t.ToAssetUID,
		CategoryUID: t.CategoryUID,
		AmountCents: t.Amount.Cents,
		Amount:      t.Amount.Units(),
		Currency:    t.Amount.Currency,
		OccurredAt:  t.OccurredAt.UTC().Format(time.RFC3339),
		RecordedAt:  t.RecordedAt.UTC().Format(time.RFC3339),
		Kind:        string(t.Kind),
		Paid:        t.Paid,
		Note:        t.Note,
		Deleted:     t.Deleted,
		Synced:      t.Synced,
		SyncVersion: t.SyncVersion,
	}
	if t.LastSyncedAt != nil {
		s := t.LastSyncedAt.UTC().Format(time.RFC3339)
		out.LastSyncedAt = &s
	}
	return out
}

type transactionRequest struct {
	AssetUID    *string `json:"assetUid"`
	ToAssetUID  *string `json:"toAssetUid"`
	CategoryUID *string `json:"categoryUid"`
	Amount      *string `json:"amount"` // decimal string, sign included
	Currency    *string `json:"currency"`
	OccurredAt  *string `json:"occurredAt"`
	Kind        *string `json:"kind"`
	Paid        *bool   `json:"paid"`
	Note        *string `json:"note"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var t core.Transaction
	if req.AssetUID != nil {
		t.AssetUID = *req.AssetUID
	}
	if req.ToAssetUID != nil {
		t.ToAssetUID = *req.ToAssetUID
	}
	if req.CategoryUID != nil {
		t.CategoryUID = *req.CategoryUID
	}
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(*req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t.Amount.Cents = cents
	}
	if req.Currency != nil {
		t.Amount.Currency = *req.Currency
	}
	if req.OccurredAt != nil {
		occ, err := parseQueryTime(*req.OccurredAt)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t.OccurredAt = occ
	}
	if req.Kind != nil {
		t.Kind = core.Kind(*req.Kind)
	}
	if req.Paid != nil {
		t.Paid = *req.Paid
	}
	if req.Note != nil {
		t.Note = *req.Note
	}

	created, err := s.repo.CreateTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "transaction", created.UID, "created", created.SyncVersion)
	writeJSON(w, http.StatusCreated, toTransactionJSON(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseQueryTime(q.Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseQueryTime(q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := storage.TransactionFilter{
		From:           from,
		To:             to,
		AssetUID:       q.Get("asset"),
		CategoryUID:    q.Get("category"),
		Kind:           core.Kind(q.Get("kind")),
		IncludeDeleted: q.Get("includeDeleted") == "true",
		OrderByDate:    q.Get("order") == "date",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, core.ErrValidation)
			return
		}
		filter.Limit = n
	}

	txns, err := s.repo.Transactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]transactionJSON, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTransaction(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	patch := storage.TransactionPatch{
		AssetUID:    req.AssetUID,
		ToAssetUID:  req.ToAssetUID,
		CategoryUID: req.CategoryUID,
		Currency:    req.Currency,
		Paid:        req.Paid,
		Note:        req.Note,
	}
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(*req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.AmountCents = &cents
	}
	if req.OccurredAt != nil {
		occ, err := parseQueryTime(*req.OccurredAt)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.OccurredAt = &occ
	}
	if req.Kind != nil {
		k := core.Kind(*req.Kind)
		patch.Kind = &k
	}

	updated, err := s.repo.UpdateTransaction(r.Context(), r.PathValue("uid"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "transaction", updated.UID, "updated", updated.SyncVersion)
	writeJSON(w, http.StatusOK, toTransactionJSON(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if err := s.repo.SoftDeleteTransaction(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.repo.GetTransaction(r.Context(), uid)
	if err == nil {
		s.ledgerChanged(r.Context(), "transaction", uid, "deleted", t.SyncVersion)
	}
	w.WriteHeader(http.StatusNoContent)
}

type assetJSON struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	GroupID      int     `json:"groupId"`
	Balance      int64   `json:"balance"`
	IsLiability  bool    `json:"isLiability"`
	Deleted      bool    `json:"deleted"`
	Synced       bool    `json:"synced"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt,omitempty"`
}

func toAssetJSON(a core.Asset) assetJSON {
	out := assetJSON{
		UID:         a.UID,
		Name:        a.Name,
		GroupID:     a.GroupID,
		Balance:     a.Balance,
		IsLiability: a.IsLiability(),
		Deleted:     a.Deleted,
		Synced:      a.Synced,
		SyncVersion: a.SyncVersion,
	}
	if a.LastSyncedAt != nil {
		s := a.LastSyncedAt.UTC().Format(time.RFC3339)
		out.LastSyncedAt = &s
	}
	return out
}

type assetRequest struct {
	Name    *string `json:"name"`
	GroupID *int    `json:"groupId"`
	Balance *int64  `json:"balance"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var a core.Asset
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.GroupID != nil {
		a.GroupID = *req.GroupID
	}
	if req.Balance != nil {
		a.Balance = *req.Balance
	}

	created, err := s.repo.CreateAsset(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "asset", created.UID, "created", created.SyncVersion)
	writeJSON(w, http.StatusCreated, toAssetJSON(created))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.repo.Assets(r.Context(), r.URL.Query().Get("includeDeleted") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]assetJSON, 0, len(assets))
	for _, a := range assets {
		out = append(out, toAssetJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAsset(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetJSON(a))
}

func (s *Server) handleAssetBalance(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	balance, err := s.repo.AssetBalance(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uid":          uid,
		"balanceCents": balance,
		"balance":      core.Money{Cents: balance}.Units(),
	})
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.repo.UpdateAsset(r.Context(), r.PathValue("uid"), storage.AssetPatch{
		Name:    req.Name,
		GroupID: req.GroupID,
		Balance: req.Balance,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "asset", updated.UID, "updated", updated.SyncVersion)
	writeJSON(w, http.StatusOK, toAssetJSON(updated))
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if err := s.repo.SoftDeleteAsset(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}
	if a, err := s.repo.GetAsset(r.Context(), uid); err == nil {
		s.ledgerChanged(r.Context(), "asset", uid, "deleted", a.SyncVersion)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssetGroups(w http.ResponseWriter, r *http.Request) {
	type groupJSON struct {
		ID          int    `json:"id"`
		Key         string `json:"key"`
		DisplayName string `json:"displayName"`
		Icon        string `json:"icon"`
		Color       string `json:"color"`
		IsLiability bool   `json:"isLiability"`
	}

	var out []groupJSON
	for _, id := range core.AssetGroupIDs() {
		g, _ := core.AssetGroupByID(id)
		out = append(out, groupJSON{
			ID:          id,
			Key:         g.Key,
			DisplayName: g.DisplayName,
			Icon:        g.Icon,
			Color:       g.Color,
			IsLiability: g.IsLiability,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type categoryJSON struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	Icon         string  `json:"icon,omitempty"`
	Color        string  `json:"color,omitempty"`
	Kind         string  `json:"kind"`
	Deleted      bool    `json:"deleted"`
	Synced       bool    `json:"synced"`
	SyncVersion  int64   `json:"syncVersion"`
	LastSyncedAt *string `json:"lastSyncedAt,omitempty"`
}

func toCategoryJSON(c core.Category) categoryJSON {
	out := categoryJSON{
		UID:         c.UID,
		Name:        c.Name,
		Icon:        c.Icon,
		Color:       c.Color,
		Kind:        string(c.Kind),
		Deleted:     c.Deleted,
		Synced:      c.Synced,
		SyncVersion: c.SyncVersion,
	}
	if c.LastSyncedAt != nil {
		s := c.LastSyncedAt.UTC().Format(time.RFC3339)
		out.LastSyncedAt = &s
	}
	return out
}

type categoryRequest struct {
	Name  *string `json:"name"`
	Icon  *string `json:"icon"`
	Color *string `json:"color"`
	Kind  *string `json:"kind"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var c core.Category
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Icon != nil {
		c.Icon = *req.Icon
	}
	if req.Color != nil {
		c.Color = *req.Color
	}
	if req.Kind != nil {
		c.Kind = core.Kind(*req.Kind)
	}

	created, err := s.repo.CreateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "category", created.UID, "created", created.SyncVersion)
	writeJSON(w, http.StatusCreated, toCategoryJSON(created))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := core.Kind(q.Get("kind"))
	if kind != "" && !kind.ValidForCategory() {
		writeError(w, r, core.ErrValidation)
		return
	}

	cats, err := s.repo.Categories(r.Context(), kind, q.Get("includeDeleted") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.repo.GetCategory(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryJSON(c))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	patch := storage.CategoryPatch{
		Name:  req.Name,
		Icon:  req.Icon,
		Color: req.Color,
	}
	if req.Kind != nil {
		k := core.Kind(*req.Kind)
		patch.Kind = &k
	}

	updated, err := s.repo.UpdateCategory(r.Context(), r.PathValue("uid"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.ledgerChanged(r.Context(), "category", updated.UID, "updated", updated.SyncVersion)
	writeJSON(w, http.StatusOK, toCategoryJSON(updated))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if err := s.repo.SoftDeleteCategory(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}
	if c, err := s.repo.GetCategory(r.Context(), uid); err == nil {
		s.ledgerChanged(r.Context(), "category", uid, "deleted", c.SyncVersion)
	} else {
		slog.WarnContext(r.Context(), "Could not read deleted category for notification", "uid", uid)
	}
	w.WriteHeader(http.StatusNoContent)
}
