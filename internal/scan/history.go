package scan

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies what triggered a scan and how much of the project it
// covers.
type Type int

const (
	TypePartial Type = iota
	TypeFull
	TypeFullOnOpen
)

func (t Type) String() string {
	switch t {
	case TypePartial:
		return "partial"
	case TypeFull:
		return "full"
	case TypeFullOnOpen:
		return "full_on_open"
	default:
		return "unknown"
	}
}

// MergeTypes returns the broader of the two types. Used when two pending
// tasks are coalesced into one.
func MergeTypes(a, b Type) Type {
	if a > b {
		return a
	}
	return b
}

// Stage names one timed phase of a scan session.
type Stage string

const (
	StageDelayedPushProperties Stage = "delayed push properties"
	StageCreatingIterators     Stage = "creating iterators"
	StageCollectingFiles       Stage = "collecting indexable files"
)

// stageTimes accumulates wall time for one stage, split into total and the
// portion spent suspended, so durations can be reported net of suspension.
type stageTimes struct {
	started   time.Time
	running   bool
	total     time.Duration
	suspended time.Duration
}

// StageTiming is a finished-stage snapshot.
type StageTiming struct {
	Total     time.Duration
	Suspended time.Duration
}

// History records one scan session: stage timings, suspend intervals,
// per-provider statistics, and the interruption flag. It is created by one
// Scanner run, mutated concurrently by that run's provider tasks (statistics
// appends only), and finalized exactly once.
type History struct {
	sessionID string
	project   *Project
	reason    string
	scanType  Type
	startedAt time.Time

	mu             sync.Mutex
	stages         map[Stage]*stageTimes
	suspendStart   time.Time
	suspendedTotal time.Duration
	interrupted    bool
	statsClosed    bool
	stats          []*Statistics
}

// NewHistory opens a session with a generated session id.
func NewHistory(project *Project, reason string, scanType Type) *History {
	return &History{
		sessionID: uuid.NewString(),
		project:   project,
		reason:    reason,
		scanType:  scanType,
		startedAt: time.Now(),
		stages:    make(map[Stage]*stageTimes),
	}
}

func (h *History) SessionID() string    { return h.sessionID }
func (h *History) Project() *Project    { return h.project }
func (h *History) Reason() string       { return h.reason }
func (h *History) ScanType() Type       { return h.scanType }
func (h *History) StartedAt() time.Time { return h.startedAt }

// StartStage marks the stage as running. Starting a stage that is already
// running is a programming error.
func (h *History) StartStage(s Stage, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stages[s]
	if st == nil {
		st = &stageTimes{}
		h.stages[s] = st
	}
	if st.running {
		panic("scan: stage started twice: " + string(s))
	}
	st.started = t
	st.running = true
}

// StopStage stops a running stage and accumulates its duration. Stopping a
// stage that is not running is a programming error.
func (h *History) StopStage(s Stage, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stages[s]
	if st == nil || !st.running {
		panic("scan: stage stopped without start: " + string(s))
	}
	// Account a still-open suspend interval against this stage.
	if !h.suspendStart.IsZero() {
		from := h.suspendStart
		if st.started.After(from) {
			from = st.started
		}
		st.suspended += t.Sub(from)
	}
	st.total += t.Sub(st.started)
	st.running = false
}

// Suspend records the start of a suspension interval. Idempotent while
// already suspended.
func (h *History) Suspend(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.suspendStart.IsZero() {
		return
	}
	h.suspendStart = t
}

// Resume closes the open suspension interval, charging it to the session and
// to every stage that was running during it.
func (h *History) Resume(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.suspendStart.IsZero() {
		return
	}
	h.suspendedTotal += t.Sub(h.suspendStart)
	for _, st := range h.stages {
		if !st.running {
			continue
		}
		from := h.suspendStart
		if st.started.After(from) {
			from = st.started
		}
		st.suspended += t.Sub(from)
	}
	h.suspendStart = time.Time{}
}

// SuspendedDuration returns the cumulative suspended time of the session.
func (h *History) SuspendedDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspendedTotal
}

// StageTiming returns the accumulated timing for one stage.
func (h *History) StageTiming(s Stage) StageTiming {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stages[s]
	if st == nil {
		return StageTiming{}
	}
	return StageTiming{Total: st.total, Suspended: st.suspended}
}

// MarkInterrupted flags the session as terminated by cancellation or failure.
// Idempotent.
func (h *History) MarkInterrupted() {
	h.mu.Lock()
	h.interrupted = true
	h.mu.Unlock()
}

func (h *History) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// AddStatistics appends one provider's record. Once the session's statistics
// are closed (all provider tasks reached a terminal state) late appends are
// dropped, so a straggler can never mutate a history a waiting goroutine is
// already reading. Reports whether the record was accepted.
func (h *History) AddStatistics(s *Statistics) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statsClosed {
		slog.Debug("scan: statistics dropped after session close",
			"session", h.sessionID, "provider", s.ProviderDebugName)
		return false
	}
	h.stats = append(h.stats, s)
	return true
}

// closeStatistics is the post-completion barrier flipped by the coordinator
// after every provider task has finished or the set was abandoned.
func (h *History) closeStatistics() {
	h.mu.Lock()
	h.statsClosed = true
	h.mu.Unlock()
}

// Statistics returns a snapshot of the per-provider records collected so far.
// Order follows completion order, not provider order.
func (h *History) Statistics() []*Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Statistics, len(h.stats))
	copy(out, h.stats)
	return out
}
