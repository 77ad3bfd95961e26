package handlers

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/frazar/scandex/internal/executor"
	"github.com/frazar/scandex/internal/scan"
	"github.com/frazar/scandex/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Project  *scan.Project
	Executor *executor.Executor
	Sched    *scheduler.Scheduler
	Version  string
}

type statusResponse struct {
	Version    string          `json:"version"`
	Project    projectInfo     `json:"project"`
	ActiveScan *activeScanInfo `json:"active_scan"`
	Schedule   scheduleInfo    `json:"schedule"`
}

type projectInfo struct {
	Name                  string `json:"name"`
	ContentFullyScanned   bool   `json:"content_fully_scanned"`
	FirstScanRequested    bool   `json:"first_scan_requested"`
	IndexUpdateInProgress bool   `json:"index_update_in_progress"`
}

type activeScanInfo struct {
	Reason    string           `json:"reason"`
	StartedAt time.Time        `json:"started_at"`
	Suspended bool             `json:"suspended"`
	Fraction  float64          `json:"fraction"`
	Text      string           `json:"text"`
	Progress  scanProgressInfo `json:"progress"`
}

type scanProgressInfo struct {
	ProvidersTotal   int64  `json:"providers_total"`
	ProvidersDone    int64  `json:"providers_done"`
	FilesScanned     int64  `json:"files_scanned"`
	FilesForIndexing int64  `json:"files_for_indexing"`
	FilesSkipped     int64  `json:"files_skipped"`
	FilesScannedText string `json:"files_scanned_text"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns engine status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: h.Version,
		Project: projectInfo{
			Name:                  h.Project.Name,
			ContentFullyScanned:   scan.IsProjectContentFullyScanned(h.Project),
			FirstScanRequested:    scan.IsFirstScanningRequested(h.Project),
			IndexUpdateInProgress: scan.IsIndexUpdateInProgress(h.Project),
		},
		Schedule: scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			NextRunAt: h.Sched.NextScanAt(),
		},
	}

	if active := h.Executor.Active(h.Project.ID); active != nil {
		scanned := active.Counters.FilesScanned.Load()
		resp.ActiveScan = &activeScanInfo{
			Reason:    active.Reason,
			StartedAt: active.StartedAt,
			Suspended: active.Suspended,
			Fraction:  active.Progress,
			Text:      active.Text,
			Progress: scanProgressInfo{
				ProvidersTotal:   active.Counters.ProvidersTotal.Load(),
				ProvidersDone:    active.Counters.ProvidersDone.Load(),
				FilesScanned:     scanned,
				FilesForIndexing: active.Counters.FilesForIndexing.Load(),
				FilesSkipped:     active.Counters.FilesSkipped.Load(),
				FilesScannedText: humanize.Comma(scanned) + " files scanned",
			},
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
