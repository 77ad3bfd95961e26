package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frazar/scandex/internal/scan"
)

// ErrNoActiveScan is returned when cancel/suspend/resume is called for a
// project with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// SubmitState reports what happened to a submitted task.
type SubmitState int

const (
	// SubmitStarted means the task began executing immediately.
	SubmitStarted SubmitState = iota
	// SubmitQueued means the task waits for the running scan to finish.
	SubmitQueued
	// SubmitMerged means the task was coalesced into an already-pending one.
	SubmitMerged
)

// ActiveScan is a snapshot of one project's running scan.
type ActiveScan struct {
	Project   *scan.Project
	Reason    string
	StartedAt time.Time
	Suspended bool
	Progress  float64
	Text      string
	Counters  *scan.Counters
}

type running struct {
	task      *scan.Scanner
	indicator *scan.Indicator
	suspender *scan.Suspender
	cancel    context.CancelFunc
	startedAt time.Time
}

// Executor serializes scan execution per project and coalesces pending tasks
// by calling Scanner.TryMergeWith; the merge semantics live in the scan
// package, the executor only decides when to apply them. Safe for concurrent
// use.
type Executor struct {
	baseCtx context.Context

	mu      sync.Mutex
	running map[string]*running      // project ID -> active scan
	pending map[string]*scan.Scanner // project ID -> coalesced waiting task
	wg      sync.WaitGroup
}

// New creates an Executor. Cancelling baseCtx cancels every running scan
// (e.g. on process shutdown).
func New(baseCtx context.Context) *Executor {
	return &Executor{
		baseCtx: baseCtx,
		running: make(map[string]*running),
		pending: make(map[string]*scan.Scanner),
	}
}

// SubmitTask implements scan.TaskQueue.
func (e *Executor) SubmitTask(t *scan.Scanner) {
	e.Submit(t)
}

// Submit schedules a task. When the project is idle the task starts at once;
// otherwise it is merged with any pending task and waits its turn.
func (e *Executor) Submit(t *scan.Scanner) SubmitState {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := t.Project().ID
	if e.running[id] == nil && e.pending[id] == nil {
		e.start(t)
		return SubmitStarted
	}
	if old := e.pending[id]; old != nil {
		e.pending[id] = t.TryMergeWith(old)
		slog.Debug("coalesced pending scan tasks", "project", t.Project().Name,
			"task", e.pending[id].String())
		return SubmitMerged
	}
	e.pending[id] = t
	return SubmitQueued
}

// start launches the task's goroutine. Caller holds e.mu.
func (e *Executor) start(t *scan.Scanner) {
	suspender := scan.NewSuspender()
	indicator := scan.NewSuspendableIndicator(suspender)
	ctx, cancel := context.WithCancel(e.baseCtx)

	id := t.Project().ID
	e.running[id] = &running{
		task:      t,
		indicator: indicator,
		suspender: suspender,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		if err := t.Perform(ctx, indicator); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan task failed", "task", t.String(), "error", err)
		}

		e.mu.Lock()
		delete(e.running, id)
		next := e.pending[id]
		delete(e.pending, id)
		if next != nil {
			e.start(next)
		}
		e.mu.Unlock()
	}()
}

// Cancel stops the project's running scan, if any.
func (e *Executor) Cancel(projectID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.running[projectID]
	if r == nil {
		return ErrNoActiveScan
	}
	r.cancel()
	// A suspended scan must still observe cancellation promptly.
	r.suspender.Resume()
	return nil
}

// Suspend pauses the project's running scan cooperatively.
func (e *Executor) Suspend(projectID, reason string) error {
	e.mu.Lock()
	r := e.running[projectID]
	e.mu.Unlock()
	if r == nil {
		return ErrNoActiveScan
	}
	r.suspender.Suspend(reason)
	return nil
}

// Resume unpauses the project's running scan.
func (e *Executor) Resume(projectID string) error {
	e.mu.Lock()
	r := e.running[projectID]
	e.mu.Unlock()
	if r == nil {
		return ErrNoActiveScan
	}
	r.suspender.Resume()
	return nil
}

// Active returns a snapshot of the project's running scan, or nil when idle.
func (e *Executor) Active(projectID string) *ActiveScan {
	e.mu.Lock()
	r := e.running[projectID]
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	return &ActiveScan{
		Project:   r.task.Project(),
		Reason:    r.task.Reason(),
		StartedAt: r.startedAt,
		Suspended: r.suspender.IsSuspended(),
		Progress:  r.indicator.Fraction(),
		Text:      r.indicator.Text(),
		Counters:  r.task.Counters(),
	}
}

// Wait blocks until all running scans have finished. Pending tasks started
// by completions are waited on too. Intended for shutdown and tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}
