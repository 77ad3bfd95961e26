package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frazar/scandex/internal/executor"
	"github.com/frazar/scandex/internal/index"
	"github.com/frazar/scandex/internal/scan"
)

// ScansHandler drives scan submission and exposes the persisted history.
type ScansHandler struct {
	Project  *scan.Project
	Services *scan.Services
	Executor *executor.Executor
	History  *index.HistoryStore
}

type createScanRequest struct {
	Reason string `json:"reason"`
}

type createScanResponse struct {
	State   string `json:"state"`
	Project string `json:"project"`
}

// Create handles POST /api/scans: submits a full scan task.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual trigger"
	}

	task := scan.NewFullScanner(h.Project, h.Services, reason)
	state := h.Executor.Submit(task)

	name := "started"
	switch state {
	case executor.SubmitQueued:
		name = "queued"
	case executor.SubmitMerged:
		name = "merged"
	}
	writeJSON(w, http.StatusAccepted, createScanResponse{
		State:   name,
		Project: h.Project.Name,
	})
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Executor.Cancel(h.Project.ID); err != nil {
		if errors.Is(err, executor.ErrNoActiveScan) {
			writeError(w, http.StatusConflict, "no_active_scan", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Suspend handles POST /api/scans/current/suspend.
func (h *ScansHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	if err := h.Executor.Suspend(h.Project.ID, "suspended via API"); err != nil {
		writeError(w, http.StatusConflict, "no_active_scan", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/scans/current/resume.
func (h *ScansHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.Executor.Resume(h.Project.ID); err != nil {
		writeError(w, http.StatusConflict, "no_active_scan", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/scans.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := h.History.ListSessions(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[index.SessionRecord]{
		Items:  sessions,
		Limit:  limit,
		Offset: offset,
	})
}

type sessionResponse struct {
	Session    index.SessionRecord      `json:"session"`
	Statistics []index.StatisticsRecord `json:"statistics"`
}

// Get handles GET /api/scans/{session}.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	record, stats, err := h.History.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "not_found", "no such scan session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: *record, Statistics: stats})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
