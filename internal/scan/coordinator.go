package scan

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/frazar/scandex/internal/origin"
)

// coordinator fans the provider list out over a bounded worker pool and fans
// the results (statistics, sink commits) back in.
type coordinator struct {
	project    *Project
	queue      *IndexingQueue
	classifier UnindexedFileClassifier
	counters   *Counters
	workers    int
}

// run spawns one scan task per provider and returns only after every spawned
// task has reached a terminal state (completed, failed locally, or
// cancelled). After the last task finishes, the history's statistics are
// closed so a straggler can never append late records. Returns ctx.Err()
// when the scan was cancelled; provider-local failures are absorbed by the
// tasks themselves.
func (c *coordinator) run(ctx context.Context, indicator *Indicator, providers []origin.Provider, history *History) error {
	if len(providers) == 0 {
		return nil
	}

	rootFilter := origin.NewDeduplicateFilter()
	indicator.SetFraction(0)
	progress := NewConcurrentProgress(indicator, len(providers))
	c.counters.ProvidersTotal.Store(int64(len(providers)))

	tasks := make([]*providerScanTask, 0, len(providers))
	for _, p := range providers {
		// A checkpoint between task creations gives suspension a chance to
		// take hold before the worker batch spawns.
		if err := indicator.Checkpoint(ctx); err != nil {
			return err
		}
		stats := NewStatistics(p.DebugName())
		stats.SetRoots(p.Roots())
		tasks = append(tasks, &providerScanTask{
			project:    c.project,
			provider:   p,
			filter:     origin.NewDelegatingFilter(rootFilter),
			sink:       c.queue.Sink(p, history.SessionID()),
			classifier: c.classifier,
			stats:      stats,
			sub:        progress.SubTask(1),
			history:    history,
			counters:   c.counters,
		})
	}

	defer history.closeStatistics()

	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	slog.Info("scanning providers", "project", c.project.Name,
		"providers", len(tasks), "workers", workers)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *providerScanTask)
	var cancelled atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				// Tasks dispatched after cancellation still run: their
				// checkpoints fail fast, and the finalizers must fire exactly
				// once per task regardless.
				if err := t.run(scanCtx); err != nil {
					cancelled.Store(true)
					cancel()
				}
			}
		}()
	}
	for _, t := range tasks {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if cancelled.Load() {
		return context.Canceled
	}
	return nil
}
