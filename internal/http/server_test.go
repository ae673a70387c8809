package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"contabile/internal/backup"
	"contabile/internal/reminder"
	"contabile/internal/services"
	"contabile/internal/storage"
)

type memTransport struct {
	mu     sync.Mutex
	files  map[string][]byte
	nextID int
	fail   *backup.TransportError
}

func newMemTransport() *memTransport { return &memTransport{files: map[string][]byte{}} }

func (m *memTransport) Upload(_ context.Context, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.nextID++
	id := fmt.Sprintf("file-%d", m.nextID)
	m.files[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memTransport) Download(_ context.Context, _ string, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	data, ok := m.files[fileID]
	if !ok {
		return nil, &backup.TransportError{Op: "download", StatusCode: 404, Body: "not found"}
	}
	return data, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) LedgerChanged(_ context.Context, entity, uid, op string, version int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%s/%s/%d", entity, op, version))
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type testEnv struct {
	srv       *httptest.Server
	repo      *storage.Repository
	transport *memTransport
	notifier  *recordingNotifier
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	transport := newMemTransport()
	notifier := &recordingNotifier{}
	s := NewServer("127.0.0.1:0", repo,
		services.NewBackupService(repo, transport),
		reminder.NewLogScheduler(), notifier)

	srv := httptest.NewServer(s.Server.Handler)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	return &testEnv{srv: srv, repo: repo, transport: transport, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func (e *testEnv) createAsset(t *testing.T, name string, groupID int) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/assets",
		map[string]any{"name": name, "groupId": groupID}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create asset: status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.UID
}

func TestTransactionEndpoints(t *testing.T) {
	env := newTestServer(t)
	assetUID := env.createAsset(t, "Checking", 3)

	resp, body := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"assetUid":   assetUID,
		"amount":     "-12,50",
		"kind":       "expense",
		"occurredAt": "2025-06-01",
		"note":       "lunch",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d: %s", resp.StatusCode, body)
	}
	var created struct {
		UID         string `json:"uid"`
		AmountCents int64  `json:"amountCents"`
		Currency    string `json:"currency"`
		SyncVersion int64  `json:"syncVersion"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.AmountCents != -1250 || created.Currency != "EUR" {
		t.Fatalf("created = %+v", created)
	}

	resp, body = env.do(t, http.MethodGet, "/api/transactions/"+created.UID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPut, "/api/transactions/"+created.UID,
		map[string]any{"note": "dinner"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d: %s", resp.StatusCode, body)
	}
	var updated struct {
		Note        string `json:"note"`
		SyncVersion int64  `json:"syncVersion"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Note != "dinner" || updated.SyncVersion != 1 {
		t.Fatalf("updated = %+v", updated)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/transactions/"+created.UID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}

	// Tombstones drop out of the default listing.
	resp, body = env.do(t, http.MethodGet, "/api/transactions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var listed []json.RawMessage
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("tombstone still listed: %s", body)
	}

	// Each mutation notified the backup pipeline: asset create, txn
	// create/update/delete.
	if env.notifier.count() != 4 {
		t.Fatalf("want 4 change notifications, got %d: %v", env.notifier.count(), env.notifier.events)
	}
}

func TestTransactionValidationErrors(t *testing.T) {
	env := newTestServer(t)

	resp, _ := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"assetUid": "a1", "amount": "0", "kind": "expense", "occurredAt": "2025-06-01",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero amount: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"assetUid": "a1", "amount": "abc", "kind": "expense", "occurredAt": "2025-06-01",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("malformed amount: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/transactions/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing row: status %d", resp.StatusCode)
	}
}

func TestAssetBalanceEndpoint(t *testing.T) {
	env := newTestServer(t)
	assetUID := env.createAsset(t, "Checking", 3)

	resp, body := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"assetUid": assetUID, "amount": "100", "kind": "income", "occurredAt": "2025-06-01",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create txn: status %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/assets/"+assetUID+"/balance", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance: status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		BalanceCents int64 `json:"balanceCents"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.BalanceCents != 10000 {
		t.Fatalf("balance = %d, want 10000", out.BalanceCents)
	}
}

func TestBackupAndRestoreEndpoints(t *testing.T) {
	env := newTestServer(t)
	env.createAsset(t, "Checking", 3)

	// Missing credential.
	resp, _ := env.do(t, http.MethodPost, "/api/backup", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}

	auth := map[string]string{"Authorization": "Bearer tok-1"}
	resp, body := env.do(t, http.MethodPost, "/api/backup", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backup: status %d: %s", resp.StatusCode, body)
	}
	var backupOut struct {
		FileID string `json:"fileId"`
		Rows   int    `json:"rows"`
	}
	if err := json.Unmarshal(body, &backupOut); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if backupOut.FileID == "" || backupOut.Rows != 1 {
		t.Fatalf("backup response = %+v", backupOut)
	}

	resp, body = env.do(t, http.MethodGet, "/api/sync/status", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status struct {
		PendingRows      int64  `json:"pendingRows"`
		LastBackupFileID string `json:"lastBackupFileId"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PendingRows != 0 || status.LastBackupFileID != backupOut.FileID {
		t.Fatalf("status = %+v", status)
	}

	// Restore with an explicit file id is a no-op on the same store.
	resp, body = env.do(t, http.MethodPost, "/api/restore",
		map[string]string{"fileId": backupOut.FileID}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore: status %d: %s", resp.StatusCode, body)
	}
	var restoreOut struct {
		Inserted  int `json:"inserted"`
		KeptLocal int `json:"keptLocal"`
	}
	if err := json.Unmarshal(body, &restoreOut); err != nil {
		t.Fatalf("decode restore: %v", err)
	}
	if restoreOut.Inserted != 0 || restoreOut.KeptLocal != 1 {
		t.Fatalf("restore = %+v", restoreOut)
	}
}

func TestBackupRemoteFailureMapsToBadGateway(t *testing.T) {
	env := newTestServer(t)
	env.createAsset(t, "Checking", 3)
	env.transport.fail = &backup.TransportError{Op: "upload", StatusCode: 503, Body: "overloaded"}

	resp, _ := env.do(t, http.MethodPost, "/api/backup", nil,
		map[string]string{"Authorization": "Bearer tok"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("remote failure: status %d, want 502", resp.StatusCode)
	}
}

func TestReminderEndpoints(t *testing.T) {
	env := newTestServer(t)

	resp, body := env.do(t, http.MethodPut, "/api/reminder",
		map[string]any{"enabled": true, "hour": 21, "minute": 15}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set: status %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/reminder", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	var rem struct {
		Enabled bool `json:"enabled"`
		Hour    int  `json:"hour"`
		Minute  int  `json:"minute"`
	}
	if err := json.Unmarshal(body, &rem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rem.Enabled || rem.Hour != 21 || rem.Minute != 15 {
		t.Fatalf("reminder = %+v", rem)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/reminder",
		map[string]any{"enabled": true, "hour": 25, "minute": 0}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad time: status %d", resp.StatusCode)
	}

	// The slot is persisted as a preference.
	resp, body = env.do(t, http.MethodGet, "/api/preferences/reminder.slot", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pref: status %d", resp.StatusCode)
	}
	var pref struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &pref); err != nil {
		t.Fatalf("decode pref: %v", err)
	}
	if pref.Value != "21:15" {
		t.Fatalf("slot = %q, want 21:15", pref.Value)
	}
}

func TestAssetGroupsEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/asset-groups", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("groups: status %d", resp.StatusCode)
	}
	var groups []struct {
		ID          int    `json:"id"`
		Key         string `json:"key"`
		IsLiability bool   `json:"isLiability"`
	}
	if err := json.Unmarshal(body, &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(groups) != 7 {
		t.Fatalf("want 7 asset groups, got %d", len(groups))
	}
	liabilities := 0
	for _, g := range groups {
		if g.IsLiability {
			liabilities++
		}
	}
	if liabilities != 2 {
		t.Fatalf("want 2 liability groups, got %d", liabilities)
	}
}
