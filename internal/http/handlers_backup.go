package http

import (
	"fmt"
	"net/http"
)

// handleBackup runs one full backup cycle. The caller supplies the remote
// store credential as a bearer token; the server never persists it.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return
	}

	result, err := s.backups.Backup(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fileId":       result.FileID,
		"rows":         result.Rows,
		"markedSynced": result.Marked,
	})
}

type restoreRequest struct {
	FileID string `json:"fileId"`
}

// handleRestore downloads a snapshot and merges it into the store. With no
// fileId in the body, the last uploaded backup is used.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return
	}

	var req restoreRequest
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	stats, err := s.backups.Restore(r.Context(), token, req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inserted":  stats.Inserted,
		"replaced":  stats.Replaced,
		"keptLocal": stats.KeptLocal,
		"skipped":   stats.Skipped,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.repo.DirtyCount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := map[string]any{"pendingRows": pending}
	if at, err := s.repo.GetPreference(r.Context(), "backup.last_at"); err == nil {
		status["lastBackupAt"] = at
	}
	if id, err := s.repo.GetPreference(r.Context(), "backup.last_file_id"); err == nil {
		status["lastBackupFileId"] = id
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.repo.Preferences(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.repo.GetPreference(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

type preferenceRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	key := r.PathValue("key")
	if err := s.repo.SetPreference(r.Context(), key, req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

type reminderRequest struct {
	Enabled bool `json:"enabled"`
	Hour    int  `json:"hour"`
	Minute  int  `json:"minute"`
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	enabled, hour, minute := s.reminders.Status(r.Context())
	writeJSON(w, http.StatusOK, reminderRequest{Enabled: enabled, Hour: hour, Minute: minute})
}

func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Enabled {
		if err := s.reminders.Enable(r.Context(), req.Hour, req.Minute); err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		if err := s.reminders.Disable(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}

	enabled, hour, minute := s.reminders.Status(r.Context())
	if err := s.repo.SetPreference(r.Context(), "reminder.slot", reminderSlot(enabled, hour, minute)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderRequest{Enabled: enabled, Hour: hour, Minute: minute})
}

func reminderSlot(enabled bool, hour, minute int) string {
	if !enabled {
		return "off"
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
