package origin

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// dirEntry is one queued directory together with the origin root it belongs
// to, so every emitted File carries its root context.
type dirEntry struct {
	dir  string
	root string
}

// dirQueue is an unbounded, concurrency-safe queue of directories to read.
// It tracks a pending counter so the walk knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller owns the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []dirEntry
	head    int // index of the next item to pop; avoids O(n) re-slicing
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(e dirEntry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns (zero, false) when the queue is closed and empty.
func (q *dirQueue) Pop() (dirEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return dirEntry{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = dirEntry{} // release string references for GC
	q.head++
	// Compact once enough items have been consumed and head has passed the
	// midpoint, keeping the backing array from growing without bound.
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child directories have
// been pushed. Decrements pending; if pending reaches 0, closes the queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// walkRoots traverses roots with numWorkers goroutines and sends every
// regular file found to out. out is closed when the walk finishes. Entries
// matching excludes are skipped. Unreadable directories are logged and
// skipped; they never abort the walk.
func walkRoots(ctx context.Context, roots []string, excludes map[string]struct{}, numWorkers int, out chan<- File) {
	defer close(out)

	// No roots means nothing ever increments pending, so Done would never
	// close the queue and workers would park in Pop forever.
	if len(roots) == 0 {
		return
	}

	q := newDirQueue()
	for _, root := range roots {
		q.pending.Add(1)
		q.Push(dirEntry{dir: root, root: root})
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkWorker(ctx, q, excludes, out)
		}()
	}
	wg.Wait()
}

// walkWorker pops directories from q, reads their entries, enqueues
// subdirectories (incrementing pending first), sends files to out, then calls
// q.Done() to decrement pending.
func walkWorker(ctx context.Context, q *dirQueue, excludes map[string]struct{}, out chan<- File) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(e.dir)
		if err != nil {
			slog.Warn("walk: read dir", "dir", e.dir, "error", err)
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(e.dir, entry.Name())

			if _, excluded := excludes[path]; excluded {
				continue
			}

			if entry.IsDir() {
				// Increment BEFORE pushing so pending never hits zero early.
				q.pending.Add(1)
				q.Push(dirEntry{dir: path, root: e.root})
				continue
			}

			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				slog.Warn("walk: stat", "path", path, "error", err)
				continue
			}

			select {
			case <-ctx.Done():
				q.Done()
				return
			case out <- File{
				Path:  path,
				Root:  e.root,
				Size:  info.Size(),
				MTime: info.ModTime(),
			}:
			}
		}

		q.Done()
	}
}
