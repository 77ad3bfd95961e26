package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frazar/scandex/internal/origin"
)

// UnindexedFileClassifier decides whether a discovered file requires
// indexing. Implementations must be safe for concurrent use by provider
// tasks.
type UnindexedFileClassifier interface {
	NeedsIndexing(ctx context.Context, project *Project, f origin.File) (bool, error)
}

// providerScanTask scans a single provider: enumerates its files through the
// shared deduplication filter, classifies unclaimed files, and writes those
// needing indexing to the provider's sink.
type providerScanTask struct {
	project    *Project
	provider   origin.Provider
	filter     *origin.DeduplicateFilter // delegating view, owned by this task
	sink       *ProviderSink
	classifier UnindexedFileClassifier
	stats      *Statistics
	sub        *SubIndicator
	history    *History
	counters   *Counters
}

// run executes the task. Only a cancellation signal is returned; any other
// failure is logged and recovered locally so sibling providers keep running.
// On every exit path the sink is finalized, the statistics timers are closed,
// and the sub-progress is reported exactly once.
func (t *providerScanTask) run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		now := time.Now()
		t.stats.TryFinishIteration(now)
		t.stats.TryFinishChecking(now)
		t.stats.TotalTime = now.Sub(start)
		t.stats.FilesSkipped = t.filter.SkippedCount()
		t.counters.FilesSkipped.Add(t.stats.FilesSkipped)
		t.history.AddStatistics(t.stats)
		t.sink.Close()
		t.counters.ProvidersDone.Add(1)
		t.sub.Finished()
	}()

	t.sub.SetText(t.provider.RootsScanningProgressText())

	err := t.collectAndQueue(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}
	// A hostile provider must never abort its siblings. The files it did not
	// publish stay unindexed until the next scan of this origin.
	slog.Error("error while scanning files of provider; rescan this origin to index it",
		"provider", t.provider.DebugName(), "error", err)
	return nil
}

func (t *providerScanTask) collectAndQueue(ctx context.Context) error {
	t.stats.StartIteration(time.Now())
	files := make([]origin.File, 0, 1024)
	err := t.provider.IterateFiles(ctx, t.filter, func(f origin.File) error {
		if err := t.sub.Checkpoint(ctx); err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	t.stats.TryFinishIteration(time.Now())
	if err != nil {
		return err
	}

	t.stats.StartChecking(time.Now())
	for _, f := range files {
		if err := t.sub.Checkpoint(ctx); err != nil {
			return err
		}
		t.stats.FilesScanned++
		t.counters.FilesScanned.Add(1)

		needs, err := t.classifier.NeedsIndexing(ctx, t.project, f)
		if err != nil {
			return err
		}
		if needs {
			t.sink.Write(f)
			t.stats.FilesForIndexing++
			t.counters.FilesForIndexing.Add(1)
		}
	}
	t.stats.TryFinishChecking(time.Now())

	t.sink.Commit()
	return nil
}
