package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frazar/scandex/internal/scan"
)

// HistoryStore persists scan sessions and their per-provider statistics. It
// implements scan.DiagnosticsListener: a row is inserted when scanning
// starts and finalized exactly once when scanning finishes, so even an
// interrupted session leaves a queryable record.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// OnScanningStarted inserts the session row in 'running' state.
func (h *HistoryStore) OnScanningStarted(hist *scan.History) {
	now := time.Now().Unix()
	_, err := h.db.Exec(`
		INSERT INTO scan_history
			(session_id, project, reason, scanning_type, status, started_at, created_at)
		VALUES (?, ?, ?, ?, 'running', ?, ?)`,
		hist.SessionID(), hist.Project().ID, hist.Reason(),
		hist.ScanType().String(), hist.StartedAt().Unix(), now)
	if err != nil {
		slog.Error("history store: insert session", "session", hist.SessionID(), "error", err)
	}
}

// OnScanningFinished finalizes the session row and writes the per-provider
// statistics rows.
func (h *HistoryStore) OnScanningFinished(hist *scan.History) {
	status := "completed"
	if hist.WasInterrupted() {
		status = "interrupted"
	}

	var scanned, forIndexing int
	var skipped int64
	stats := hist.Statistics()
	for _, st := range stats {
		scanned += st.FilesScanned
		forIndexing += st.FilesForIndexing
		skipped += st.FilesSkipped
	}

	finishedAt := time.Now()
	_, err := h.db.Exec(`
		UPDATE scan_history
		SET status                = ?,
		    finished_at           = ?,
		    duration_ms           = ?,
		    suspended_ms          = ?,
		    delayed_push_ms       = ?,
		    creating_iterators_ms = ?,
		    collecting_files_ms   = ?,
		    files_scanned         = ?,
		    files_for_indexing    = ?,
		    files_skipped         = ?
		WHERE session_id = ?`,
		status,
		finishedAt.Unix(),
		finishedAt.Sub(hist.StartedAt()).Milliseconds(),
		hist.SuspendedDuration().Milliseconds(),
		hist.StageTiming(scan.StageDelayedPushProperties).Total.Milliseconds(),
		hist.StageTiming(scan.StageCreatingIterators).Total.Milliseconds(),
		hist.StageTiming(scan.StageCollectingFiles).Total.Milliseconds(),
		scanned, forIndexing, skipped,
		hist.SessionID())
	if err != nil {
		slog.Error("history store: finalize session", "session", hist.SessionID(), "error", err)
		return
	}

	for _, st := range stats {
		_, err := h.db.Exec(`
			INSERT INTO scanning_statistics
				(session_id, provider, roots, files_scanned, files_for_indexing,
				 files_skipped, iteration_ms, checking_ms, total_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			hist.SessionID(), st.ProviderDebugName, strings.Join(st.Roots, ","),
			st.FilesScanned, st.FilesForIndexing, st.FilesSkipped,
			st.IterationTime.Milliseconds(), st.CheckingTime.Milliseconds(),
			st.TotalTime.Milliseconds())
		if err != nil {
			slog.Error("history store: insert statistics", "session", hist.SessionID(),
				"provider", st.ProviderDebugName, "error", err)
		}
	}
}

// MarkStaleSessionsFailed marks sessions still in 'running' state as failed.
// Called once at startup in case a previous process crashed mid-scan.
func (h *HistoryStore) MarkStaleSessionsFailed() error {
	res, err := h.db.Exec(`
		UPDATE scan_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale sessions failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scan sessions as failed", "count", n)
	}
	return nil
}

// PruneBefore deletes sessions started before cutoff together with their
// statistics rows. Wired to the nightly maintenance job.
func (h *HistoryStore) PruneBefore(ctx context.Context, cutoff time.Time) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM scanning_statistics
		WHERE session_id IN (SELECT session_id FROM scan_history WHERE started_at < ?)`,
		cutoff.Unix()); err != nil {
		return fmt.Errorf("prune statistics: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM scan_history WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("pruned scan history", "sessions", n, "before", cutoff)
	}
	return nil
}

// SessionRecord is one persisted scan session.
type SessionRecord struct {
	SessionID        string     `json:"session_id"`
	Project          string     `json:"project"`
	Reason           string     `json:"reason"`
	ScanningType     string     `json:"scanning_type"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationMs       int64      `json:"duration_ms"`
	SuspendedMs      int64      `json:"suspended_ms"`
	FilesScanned     int64      `json:"files_scanned"`
	FilesForIndexing int64      `json:"files_for_indexing"`
	FilesSkipped     int64      `json:"files_skipped"`
}

// StatisticsRecord is one persisted per-provider statistics row.
type StatisticsRecord struct {
	Provider         string `json:"provider"`
	Roots            string `json:"roots"`
	FilesScanned     int64  `json:"files_scanned"`
	FilesForIndexing int64  `json:"files_for_indexing"`
	FilesSkipped     int64  `json:"files_skipped"`
	IterationMs      int64  `json:"iteration_ms"`
	CheckingMs       int64  `json:"checking_ms"`
	TotalMs          int64  `json:"total_ms"`
}

// ListSessions returns sessions newest-first.
func (h *HistoryStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT session_id, project, reason, scanning_type, status,
		       started_at, finished_at, duration_ms, suspended_ms,
		       files_scanned, files_for_indexing, files_skipped
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.SessionID, &r.Project, &r.Reason, &r.ScanningType,
			&r.Status, &startedAt, &finishedAt, &r.DurationMs, &r.SuspendedMs,
			&r.FilesScanned, &r.FilesForIndexing, &r.FilesSkipped); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSession returns one session and its statistics rows.
func (h *HistoryStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, []StatisticsRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT session_id, project, reason, scanning_type, status,
		       started_at, finished_at, duration_ms, suspended_ms,
		       files_scanned, files_for_indexing, files_skipped
		FROM scan_history WHERE session_id = ?`, sessionID)

	var r SessionRecord
	var startedAt int64
	var finishedAt sql.NullInt64
	err := row.Scan(&r.SessionID, &r.Project, &r.Reason, &r.ScanningType,
		&r.Status, &startedAt, &finishedAt, &r.DurationMs, &r.SuspendedMs,
		&r.FilesScanned, &r.FilesForIndexing, &r.FilesSkipped)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	r.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		r.FinishedAt = &t
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT provider, roots, files_scanned, files_for_indexing, files_skipped,
		       iteration_ms, checking_ms, total_ms
		FROM scanning_statistics WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session statistics: %w", err)
	}
	defer rows.Close()

	var stats []StatisticsRecord
	for rows.Next() {
		var st StatisticsRecord
		if err := rows.Scan(&st.Provider, &st.Roots, &st.FilesScanned,
			&st.FilesForIndexing, &st.FilesSkipped,
			&st.IterationMs, &st.CheckingMs, &st.TotalMs); err != nil {
			return nil, nil, fmt.Errorf("scan statistics row: %w", err)
		}
		stats = append(stats, st)
	}
	return &r, stats, rows.Err()
}
