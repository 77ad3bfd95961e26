package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/frazar/scandex/internal/origin"
)

// IndexService is the index-maintenance boundary the scanner drives.
type IndexService interface {
	LoadIndexes(ctx context.Context) error
	ClearIndicesIfNecessary(ctx context.Context) error
	FilesUpdateStarted(p *Project, fullUpdate bool)
	FilesUpdateFinished(p *Project)
	// IndexableFilesProviders returns the ordered provider list for a fresh
	// collection (ordering before the SDK-last reshuffle).
	IndexableFilesProviders(ctx context.Context, p *Project) ([]origin.Provider, error)
}

// StatusMark is the opaque validity token produced when providers are
// collected through the dependency-status cache. The core only checks
// validity to merge marks and otherwise passes the value through.
type StatusMark interface {
	StillValid() bool
}

// MergeMarks combines the marks of two merged tasks: prefer a mark that is
// still valid, else nil.
func MergeMarks(a, b StatusMark) StatusMark {
	if a != nil && a.StillValid() {
		return a
	}
	if b != nil && b.StillValid() {
		return b
	}
	return nil
}

// DependencyStatusCache lets provider collection be recorded against a
// validity mark so redundant collections can be skipped by callers.
type DependencyStatusCache interface {
	ShouldBeUsed() bool
	StartCollectingStatus()
	FinishCollectingStatus() StatusMark
	IndexingFinished(success bool, mark StatusMark)
}

// DiagnosticsListener receives fire-and-forget scan lifecycle notifications.
type DiagnosticsListener interface {
	OnScanningStarted(h *History)
	OnScanningFinished(h *History)
}

// PropertyPusher runs delayed file-property push tasks before scanning.
type PropertyPusher interface {
	PerformDelayedPushTasks(ctx context.Context) error
}

// TaskQueue is the external executor the scanner submits itself to. The
// executor serializes execution per project and coalesces pending tasks via
// TryMergeWith.
type TaskQueue interface {
	SubmitTask(t *Scanner)
}

// Services bundles the collaborators one Scanner run needs. Pusher and
// StatusCache are optional; Diagnostics may be empty.
type Services struct {
	Index       IndexService
	Queue       *IndexingQueue
	Classifier  UnindexedFileClassifier
	Pusher      PropertyPusher
	StatusCache DependencyStatusCache
	Diagnostics []DiagnosticsListener

	// ScanningWorkers bounds provider-scan parallelism; values below 1 mean
	// sequential execution.
	ScanningWorkers int
}

// Options configures a Scanner beyond its project and services.
type Options struct {
	Reason         string
	Type           Type
	StartSuspended bool
	OnProjectOpen  bool

	// Predefined is the explicit provider list of a partial update; nil
	// means a full update that collects providers from the index service.
	// A non-nil empty list is a programming error.
	Predefined []origin.Provider
	// Mark is only meaningful together with Predefined.
	Mark StatusMark
}

// Scanner is one unit of scanning work. It is constructed by a caller or by
// merging two pending tasks, executed at most once, and not reusable after
// execution.
type Scanner struct {
	project  *Project
	services *Services

	startSuspended bool
	onProjectOpen  bool
	reason         string
	scanningType   Type
	predefined     []origin.Provider
	providedMark   StatusMark

	counters Counters

	// flushQueueAfterScanning is a test hook mirroring production behavior:
	// the queue flush after scanning must run exactly once.
	flushQueueAfterScanning bool
	performed               atomic.Bool
}

// NewScanner creates a scanning task. Passing a non-nil empty predefined
// provider list panics: partial updates must name at least one provider.
func NewScanner(project *Project, services *Services, opts Options) *Scanner {
	if opts.Predefined != nil && len(opts.Predefined) == 0 {
		panic("scan: predefined provider list must not be empty")
	}
	reason := opts.Reason
	if reason == "" {
		reason = "<unknown>"
	}
	var mark StatusMark
	if opts.Predefined != nil {
		mark = opts.Mark
	}
	s := &Scanner{
		project:                 project,
		services:                services,
		startSuspended:          opts.StartSuspended,
		onProjectOpen:           opts.OnProjectOpen,
		reason:                  reason,
		scanningType:            opts.Type,
		predefined:              opts.Predefined,
		providedMark:            mark,
		flushQueueAfterScanning: true,
	}
	if s.IsFullUpdate() {
		projectFlags.clear(project, flagContentScanned)
	}
	return s
}

// NewFullScanner creates a full-update task with default options.
func NewFullScanner(project *Project, services *Services, reason string) *Scanner {
	return NewScanner(project, services, Options{Reason: reason, Type: TypeFull})
}

func (s *Scanner) Project() *Project  { return s.project }
func (s *Scanner) Reason() string     { return s.reason }
func (s *Scanner) ScanningType() Type { return s.scanningType }

// Counters exposes the live progress counters of this run.
func (s *Scanner) Counters() *Counters { return &s.counters }

// PredefinedProviders returns the partial update's provider list, or nil for
// a full update.
func (s *Scanner) PredefinedProviders() []origin.Provider { return s.predefined }

// IsFullUpdate reports whether this task rescans the whole project (no
// predefined provider list was supplied).
func (s *Scanner) IsFullUpdate() bool {
	return s.predefined == nil
}

func (s *Scanner) String() string {
	partial := ""
	if s.predefined != nil {
		partial = fmt.Sprintf(", %d providers", len(s.predefined))
	}
	return fmt.Sprintf("Scanner[%s%s]", s.project.Name, partial)
}

// TryMergeWith coalesces this pending task with an older pending task for
// the same project into a single task covering both. Field rules: provider
// lists merge to their origin-deduplicated union (first occurrence wins,
// full updates are absorbing), reasons concatenate human-readably, scanning
// types broaden, status marks prefer the still-valid one. Calling it with a
// task for another project is a programming error.
func (s *Scanner) TryMergeWith(old *Scanner) *Scanner {
	if s.project.ID != old.project.ID {
		panic("scan: cannot merge tasks of different projects")
	}

	var reason string
	switch {
	case old.IsFullUpdate():
		reason = old.reason
	case s.IsFullUpdate():
		reason = s.reason
	default:
		reason = "Merged " + strings.TrimPrefix(s.reason, "Merged ") +
			" with " + strings.TrimPrefix(old.reason, "Merged ")
	}
	slog.Debug("merged scanning tasks", "task", s.String(), "old", old.String())

	return NewScanner(s.project, s.services, Options{
		Reason:         reason,
		Type:           MergeTypes(s.scanningType, old.scanningType),
		StartSuspended: s.startSuspended,
		OnProjectOpen:  false,
		Predefined:     mergeProviders(s.predefined, old.predefined),
		Mark:           MergeMarks(s.providedMark, old.providedMark),
	})
}

// mergeProviders unions two predefined lists by origin, first occurrence
// wins, order preserved. Either list being nil (a full update) makes the
// union nil: still a full update.
func mergeProviders(a, b []origin.Provider) []origin.Provider {
	if a == nil || b == nil {
		return nil
	}
	seen := make(map[origin.Origin]struct{}, len(a)+len(b))
	merged := make([]origin.Provider, 0, len(a)+len(b))
	for _, list := range [2][]origin.Provider{a, b} {
		for _, p := range list {
			if _, dup := seen[p.Origin()]; dup {
				continue
			}
			seen[p.Origin()] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged
}

// QueueTo submits this task to the project's scanning executor.
func (s *Scanner) QueueTo(q TaskQueue) {
	q.SubmitTask(s)
}

// ScanAndIndexProjectAfterOpen loads indexes, marks the first scan as
// requested, and queues a full scan classified as triggered by project open.
func ScanAndIndexProjectAfterOpen(project *Project, services *Services, q TaskQueue, startSuspended bool, reason string) {
	if err := services.Index.LoadIndexes(context.Background()); err != nil {
		slog.Error("load indexes on project open", "project", project.Name, "error", err)
	}
	projectFlags.set(project, flagFirstScanningRequested, true)
	NewScanner(project, services, Options{
		Reason:         reason,
		Type:           TypeFullOnOpen,
		StartSuspended: startSuspended,
		OnProjectOpen:  true,
	}).QueueTo(q)
}

// Perform is the single externally invoked entry point of a task. A task
// performs at most once; a second call, or a call while another scan is in
// progress for the same project, is a programming error. Cancellation and
// orchestration failures propagate to the caller after all finalizers ran.
func (s *Scanner) Perform(ctx context.Context, indicator *Indicator) error {
	if s.performed.Swap(true) {
		panic("scan: task performed twice: " + s.String())
	}
	if IsIndexUpdateInProgress(s.project) {
		panic("scan: scanning is already in progress for project " + s.project.Name)
	}
	projectFlags.set(s.project, flagUpdateInProgress, true)
	defer projectFlags.set(s.project, flagUpdateInProgress, false)

	_, err := s.performScanning(ctx, indicator)
	return err
}

// performScanning runs the full lifecycle and returns the session history.
func (s *Scanner) performScanning(ctx context.Context, indicator *Indicator) (*History, error) {
	history := NewHistory(s.project, s.reason, s.scanningType)

	if err := s.services.Index.LoadIndexes(ctx); err != nil {
		return history, fmt.Errorf("load indexes: %w", err)
	}
	s.services.Index.FilesUpdateStarted(s.project, s.IsFullUpdate())
	for _, d := range s.services.Diagnostics {
		d.OnScanningStarted(history)
	}

	var mark StatusMark
	var err error
	defer func() {
		s.services.Index.FilesUpdateFinished(s.project)
		if sc := s.services.StatusCache; sc != nil && sc.ShouldBeUsed() {
			sc.IndexingFinished(!history.WasInterrupted(), mark)
		}
		for _, d := range s.services.Diagnostics {
			d.OnScanningFinished(history)
		}
	}()
	defer func() {
		if err == nil {
			return
		}
		history.MarkInterrupted()
		if errors.Is(err, context.Canceled) {
			slog.Info("cancelled scanning", "project", s.project.Name, "session", history.SessionID())
		} else {
			slog.Error("scanning failed", "project", s.project.Name,
				"session", history.SessionID(), "error", err)
		}
	}()

	err = s.scanAndUpdateUnindexedFiles(ctx, history, indicator, &mark)
	return history, err
}

// scanAndUpdateUnindexedFiles guarantees the queue flush runs exactly once,
// whatever scanning did: without it, dumb mode would never end for the
// project after a failed scan.
func (s *Scanner) scanAndUpdateUnindexedFiles(ctx context.Context, history *History, indicator *Indicator, markOut *StatusMark) (err error) {
	defer func() {
		if !s.flushQueueAfterScanning {
			return
		}
		if ferr := s.flushIndexingQueue(indicator); ferr != nil && err == nil {
			err = ferr
		}
	}()
	return s.scanUnindexedFiles(ctx, history, indicator, markOut)
}

func (s *Scanner) flushIndexingQueue(indicator *Indicator) error {
	if s.services.Queue.SmartMode() {
		s.services.Queue.FlushNow(s.reason)
		return nil
	}
	// Background context: the flush must complete even when the scan was
	// cancelled, or already-committed files would stay unindexed.
	return s.services.Queue.FlushNowSync(context.Background(), s.reason, indicator)
}

func (s *Scanner) scanUnindexedFiles(ctx context.Context, history *History, indicator *Indicator, markOut *StatusMark) error {
	slog.Info("started scanning for indexing", "project", s.project.Name,
		"session", history.SessionID(), "reason", s.reason, "type", s.scanningType.String())

	if suspender := indicator.Suspender(); suspender != nil {
		suspender.SetListeners(
			func(t time.Time) { history.Suspend(t) },
			func(t time.Time) { history.Resume(t) },
		)
		defer suspender.SetListeners(nil, nil)
	}
	if s.startSuspended {
		suspender := indicator.Suspender()
		if suspender == nil {
			panic("scan: scanning progress indicator must be suspendable")
		}
		if !suspender.IsSuspended() {
			suspender.Suspend("scanning started as suspended")
		}
	}

	indicator.SetIndeterminate(true)
	indicator.SetText("Scanning files to index...")

	return s.scan(ctx, history, indicator, markOut)
}

// scan runs the ordered stages: delayed property push, index clearing (full
// updates only), provider resolution, concurrent collection.
func (s *Scanner) scan(ctx context.Context, history *History, indicator *Indicator, markOut *StatusMark) error {
	err := s.runStage(ctx, history, indicator, StageDelayedPushProperties, func() error {
		if s.services.Pusher == nil {
			return nil
		}
		return s.services.Pusher.PerformDelayedPushTasks(ctx)
	})
	if err != nil {
		return err
	}

	if s.IsFullUpdate() {
		if err := s.services.Index.ClearIndicesIfNecessary(ctx); err != nil {
			return fmt.Errorf("clear indices: %w", err)
		}
	}

	var providers []origin.Provider
	err = s.runStage(ctx, history, indicator, StageCreatingIterators, func() error {
		if s.predefined != nil {
			providers = s.predefined
			return nil
		}
		collected, mark, err := s.collectProviders(ctx)
		if err != nil {
			return err
		}
		providers = collected
		*markOut = mark
		return nil
	})
	if err != nil {
		return err
	}

	err = s.runStage(ctx, history, indicator, StageCollectingFiles, func() error {
		c := &coordinator{
			project:    s.project,
			queue:      s.services.Queue,
			classifier: s.services.Classifier,
			counters:   &s.counters,
			workers:    s.services.ScanningWorkers,
		}
		if err := c.run(ctx, indicator, providers, history); err != nil {
			return err
		}
		if s.IsFullUpdate() {
			projectFlags.set(s.project, flagContentScanned, true)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logScanningCompleted(history)
	return nil
}

// runStage wraps a stage body with its timer and the checkpoints required
// before and after every stage transition.
func (s *Scanner) runStage(ctx context.Context, history *History, indicator *Indicator, stage Stage, body func() error) error {
	if err := indicator.Checkpoint(ctx); err != nil {
		return err
	}
	history.StartStage(stage, time.Now())
	err := body()
	history.StopStage(stage, time.Now())
	if err != nil {
		return err
	}
	return indicator.Checkpoint(ctx)
}

// collectProviders fetches the provider list from the index service, wrapped
// in status collection when the dependency-status cache is in use, and
// reorders it so SDK-origin providers run last.
func (s *Scanner) collectProviders(ctx context.Context) ([]origin.Provider, StatusMark, error) {
	var mark StatusMark
	sc := s.services.StatusCache
	useCache := sc != nil && sc.ShouldBeUsed()
	if useCache {
		sc.StartCollectingStatus()
	}
	collected, err := s.services.Index.IndexableFilesProviders(ctx, s.project)
	if useCache {
		mark = sc.FinishCollectingStatus()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("collect providers: %w", err)
	}

	ordered := make([]origin.Provider, 0, len(collected))
	for _, p := range collected {
		if !p.Origin().Kind.LowPriority() {
			ordered = append(ordered, p)
		}
	}
	for _, p := range collected {
		if p.Origin().Kind.LowPriority() {
			ordered = append(ordered, p)
		}
	}
	return ordered, mark, nil
}

func (s *Scanner) logScanningCompleted(history *History) {
	var scanned, forIndexing int
	for _, st := range history.Statistics() {
		scanned += st.FilesScanned
		forIndexing += st.FilesForIndexing
	}
	slog.Info("scanning completed", "project", s.project.Name,
		"session", history.SessionID(),
		"scanned_files", humanize.Comma(int64(scanned)),
		"files_for_indexing", humanize.Comma(int64(forIndexing)))
}
