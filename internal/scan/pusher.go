package scan

import (
	"context"
	"log/slog"
	"sync"
)

// DelayedPusher collects property-push tasks queued between scans and runs
// them during the delayed-push stage of the next scan. Implements
// PropertyPusher. Safe for concurrent use.
type DelayedPusher struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context) error
}

func NewDelayedPusher() *DelayedPusher {
	return &DelayedPusher{}
}

// Schedule queues one task for the next scan.
func (d *DelayedPusher) Schedule(task func(ctx context.Context) error) {
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()
}

// PendingCount returns the number of queued tasks.
func (d *DelayedPusher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// PerformDelayedPushTasks drains the queue on the calling goroutine. The
// queue is taken atomically up front; tasks scheduled while draining run in
// the next scan. A failed task aborts the drain and requeues the remainder.
func (d *DelayedPusher) PerformDelayedPushTasks(ctx context.Context) error {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()

	if len(tasks) == 0 {
		return nil
	}
	slog.Debug("performing delayed property push tasks", "count", len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			d.requeue(tasks[i:])
			return err
		}
		if err := task(ctx); err != nil {
			d.requeue(tasks[i+1:])
			return err
		}
	}
	return nil
}

// requeue puts unfinished tasks back at the front of the queue.
func (d *DelayedPusher) requeue(rest []func(ctx context.Context) error) {
	if len(rest) == 0 {
		return
	}
	d.mu.Lock()
	d.tasks = append(append([]func(ctx context.Context) error{}, rest...), d.tasks...)
	d.mu.Unlock()
}
