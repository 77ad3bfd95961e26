package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frazar/scandex/internal/origin"
)

// QueuedFile is one file queued for downstream indexing, tagged with the
// owning project, the provider that discovered it, and the scan session that
// produced it.
type QueuedFile struct {
	File      origin.File
	Project   string
	Provider  string
	SessionID string
}

// Indexer consumes committed batches when the queue is flushed. The actual
// index-building engine lives behind this boundary.
type Indexer interface {
	IndexFiles(ctx context.Context, files []QueuedFile) error
}

// IndexingQueue collects files discovered for one project. Each provider
// task writes into its own ProviderSink; a sink's files become visible to
// flushes only once the sink commits, so a failed provider's partial list is
// dropped rather than partially published.
type IndexingQueue struct {
	project   *Project
	indexer   Indexer
	smartMode bool

	mu      sync.Mutex
	pending []QueuedFile

	asyncFlushes sync.WaitGroup
}

// NewIndexingQueue creates the queue. smartMode selects asynchronous flushing
// (background indexing is tolerated); otherwise flushes run synchronously on
// the calling goroutine.
func NewIndexingQueue(project *Project, indexer Indexer, smartMode bool) *IndexingQueue {
	return &IndexingQueue{project: project, indexer: indexer, smartMode: smartMode}
}

// SmartMode reports whether the queue flushes asynchronously.
func (q *IndexingQueue) SmartMode() bool { return q.smartMode }

// PendingCount returns the number of committed, not yet flushed files.
func (q *IndexingQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Sink creates the per-provider sink for one scan task. The sink is
// exclusively owned by that task; callers must Close it on every exit path.
func (q *IndexingQueue) Sink(provider origin.Provider, sessionID string) *ProviderSink {
	return &ProviderSink{
		queue:     q,
		provider:  provider.DebugName(),
		sessionID: sessionID,
	}
}

// commit publishes a sink's files atomically.
func (q *IndexingQueue) commit(files []QueuedFile) {
	q.mu.Lock()
	q.pending = append(q.pending, files...)
	q.mu.Unlock()
}

// take removes and returns all committed files.
func (q *IndexingQueue) take() []QueuedFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

// putBack restores a batch that could not be flushed, ahead of anything
// committed since, so a later flush retries it.
func (q *IndexingQueue) putBack(batch []QueuedFile) {
	q.mu.Lock()
	q.pending = append(batch, q.pending...)
	q.mu.Unlock()
}

// FlushNow hands the committed files to the indexer on a background
// goroutine. Used in smart mode, where indexing may proceed while the caller
// moves on.
func (q *IndexingQueue) FlushNow(reason string) {
	batch := q.take()
	slog.Info("flushing indexing queue", "project", q.project.Name,
		"files", len(batch), "reason", reason, "mode", "async")
	if len(batch) == 0 {
		return
	}
	q.asyncFlushes.Add(1)
	go func() {
		defer q.asyncFlushes.Done()
		// Background: the flush must survive cancellation of the scan.
		if err := q.indexer.IndexFiles(context.Background(), batch); err != nil {
			slog.Error("async queue flush failed", "project", q.project.Name, "error", err)
			q.putBack(batch)
		}
	}()
}

// FlushNowSync drains the committed files on the calling goroutine.
func (q *IndexingQueue) FlushNowSync(ctx context.Context, reason string, indicator *Indicator) error {
	batch := q.take()
	slog.Info("flushing indexing queue", "project", q.project.Name,
		"files", len(batch), "reason", reason, "mode", "sync")
	if len(batch) == 0 {
		return nil
	}
	if indicator != nil {
		indicator.SetText(fmt.Sprintf("Indexing %d files...", len(batch)))
	}
	if err := q.indexer.IndexFiles(ctx, batch); err != nil {
		q.putBack(batch)
		return fmt.Errorf("flush indexing queue: %w", err)
	}
	return nil
}

// WaitForFlushes blocks until all asynchronous flushes have completed.
// Intended for shutdown and tests.
func (q *IndexingQueue) WaitForFlushes() {
	q.asyncFlushes.Wait()
}

// ProviderSink buffers one provider's discovered files. Files reach the
// queue only on Commit; Close without Commit discards them.
type ProviderSink struct {
	queue     *IndexingQueue
	provider  string
	sessionID string

	files     []QueuedFile
	committed bool
	closed    bool
}

// Write buffers one file. The sink is single-owner; no locking.
func (s *ProviderSink) Write(f origin.File) {
	s.files = append(s.files, QueuedFile{
		File:      f,
		Project:   s.queue.project.ID,
		Provider:  s.provider,
		SessionID: s.sessionID,
	})
}

// Commit publishes the buffered files to the queue atomically. At most one
// commit is observed; later calls are ignored.
func (s *ProviderSink) Commit() {
	if s.committed || s.closed {
		return
	}
	s.committed = true
	s.queue.commit(s.files)
	s.files = nil
}

// Close finalizes the sink. An uncommitted sink's files are discarded.
// Idempotent.
func (s *ProviderSink) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if !s.committed && len(s.files) > 0 {
		slog.Debug("discarding uncommitted sink", "provider", s.provider,
			"session", s.sessionID, "files", len(s.files))
	}
	s.files = nil
}
