package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drinkits/attachment-architect/internal/scan"
	"github.com/drinkits/attachment-architect/internal/scheduler"
	"github.com/drinkits/attachment-architect/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusHandler struct {
	progress *scan.Progress
	sched    *scheduler.Scheduler
	version  string
}

type statusResponse struct {
	Version         string     `json:"version"`
	ScanActive      bool       `json:"scan_active"`
	IssuesProcessed int64      `json:"issues_processed"`
	FilesProcessed  int64      `json:"files_processed"`
	BytesHashed     int64      `json:"bytes_hashed"`
	DuplicateFiles  int64      `json:"duplicate_files"`
	WastedBytes     int64      `json:"wasted_bytes"`
	DegradedFiles   int64      `json:"degraded_files"`
	Retries         int64      `json:"retries"`
	Checkpoints     int64      `json:"checkpoints"`
	CleanupSchedule string     `json:"cleanup_schedule,omitempty"`
	NextCleanupAt   *time.Time `json:"next_cleanup_at,omitempty"`
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: h.version}
	if h.sched != nil {
		resp.CleanupSchedule = h.sched.CronExpr()
		resp.NextCleanupAt = h.sched.NextRunAt()
	}
	if h.progress != nil {
		resp.ScanActive = true
		resp.IssuesProcessed = h.progress.IssuesProcessed.Load()
		resp.FilesProcessed = h.progress.FilesProcessed.Load()
		resp.BytesHashed = h.progress.BytesHashed.Load()
		resp.DuplicateFiles = h.progress.DuplicateFiles.Load()
		resp.WastedBytes = h.progress.WastedBytes.Load()
		resp.DegradedFiles = h.progress.Degraded.Load()
		resp.Retries = h.progress.Retries.Load()
		resp.Checkpoints = h.progress.Checkpoints.Load()
	}
	writeJSON(w, http.StatusOK, resp)
}

type scansHandler struct {
	store *store.Store
}

func (h *scansHandler) List(w http.ResponseWriter, r *http.Request) {
	scans, err := h.store.List(r.Context())
	if err != nil {
		slog.Error("list scans", "error", err)
		writeError(w, http.StatusInternalServerError, "list scans failed")
		return
	}
	if scans == nil {
		scans = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, scans)
}

func (h *scansHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.store.LoadSnapshot(r.Context(), id)
	if errors.Is(err, scan.ErrSnapshotNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		slog.Error("load scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load scan failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan":             snap.State,
		"summary":          snap.Stats,
		"duplicate_groups": snap.Groups,
	})
}
