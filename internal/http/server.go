// Package http exposes the ledger over a JSON API. All persistence goes
// through the storage repository; backup and restore go through the backup
// service so the API never touches the transport directly.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"contabile/internal/reminder"
	"contabile/internal/services"
	"contabile/internal/storage"
)

// ChangeNotifier is told about every committed local mutation so the backup
// pipeline can wake up. Implementations must not block the request path.
type ChangeNotifier interface {
	LedgerChanged(ctx context.Context, entity, uid, op string, version int64)
}

type Server struct {
	http.Server

	repo      *storage.Repository
	backups   *services.BackupService
	reminders reminder.Scheduler
	notifier  ChangeNotifier

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server. notifier may
// be nil when no backup pipeline is attached.
func NewServer(addr string, repo *storage.Repository, backups *services.BackupService, reminders reminder.Scheduler, notifier ChangeNotifier) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		repo:        repo,
		backups:     backups,
		reminders:   reminders,
		notifier:    notifier,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/transactions", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions", s.withMiddleware(s.handleListTransactions))
	mux.HandleFunc("GET /api/transactions/{uid}", s.withMiddleware(s.handleGetTransaction))
	mux.HandleFunc("PUT /api/transactions/{uid}", s.withMiddleware(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{uid}", s.withMiddleware(s.handleDeleteTransaction))

	mux.HandleFunc("POST /api/assets", s.withMiddleware(s.handleCreateAsset))
	mux.HandleFunc("GET /api/assets", s.withMiddleware(s.handleListAssets))
	mux.HandleFunc("GET /api/assets/{uid}", s.withMiddleware(s.handleGetAsset))
	mux.HandleFunc("GET /api/assets/{uid}/balance", s.withMiddleware(s.handleAssetBalance))
	mux.HandleFunc("PUT /api/assets/{uid}", s.withMiddleware(s.handleUpdateAsset))
	mux.HandleFunc("DELETE /api/assets/{uid}", s.withMiddleware(s.handleDeleteAsset))
	mux.HandleFunc("GET /api/asset-groups", s.withMiddleware(s.handleListAssetGroups))

	mux.HandleFunc("POST /api/categories", s.withMiddleware(s.handleCreateCategory))
	mux.HandleFunc("GET /api/categories", s.withMiddleware(s.handleListCategories))
	mux.HandleFunc("GET /api/categories/{uid}", s.withMiddleware(s.handleGetCategory))
	mux.HandleFunc("PUT /api/categories/{uid}", s.withMiddleware(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /api/categories/{uid}", s.withMiddleware(s.handleDeleteCategory))

	mux.HandleFunc("POST /api/backup", s.withMiddleware(s.handleBackup))
	mux.HandleFunc("POST /api/restore", s.withMiddleware(s.handleRestore))
	mux.HandleFunc("GET /api/sync/status", s.withMiddleware(s.handleSyncStatus))

	mux.HandleFunc("GET /api/preferences", s.withMiddleware(s.handleListPreferences))
	mux.HandleFunc("GET /api/preferences/{key}", s.withMiddleware(s.handleGetPreference))
	mux.HandleFunc("PUT /api/preferences/{key}", s.withMiddleware(s.handleSetPreference))

	mux.HandleFunc("GET /api/reminder", s.withMiddleware(s.handleGetReminder))
	mux.HandleFunc("PUT /api/reminder", s.withMiddleware(s.handleSetReminder))

	return s
}

// Shutdown stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// withMiddleware adds request ids, rate limiting on writes, and request
// logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.repo.DirtyCount(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// ledgerChanged fans a mutation out to the notifier, if one is attached.
func (s *Server) ledgerChanged(ctx context.Context, entity, uid, op string, version int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.LedgerChanged(ctx, entity, uid, op, version)
}

// Simple per-client rate limiter for write endpoints.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now

	return client.requests <= 120
}
