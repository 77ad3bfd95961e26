package scan

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Suspender is the cooperative pause switch for one scan. Workers observe it
// through Indicator.Checkpoint between file-visit operations, so no worker
// makes forward progress while the scan is paused.
type Suspender struct {
	mu        sync.Mutex
	suspended bool
	reason    string
	resumeCh  chan struct{}

	onSuspend func(time.Time)
	onResume  func(time.Time)
}

func NewSuspender() *Suspender {
	return &Suspender{}
}

// SetListeners installs callbacks fired on state transitions. The scanner
// uses them to record suspend intervals in the session history.
func (s *Suspender) SetListeners(onSuspend, onResume func(time.Time)) {
	s.mu.Lock()
	s.onSuspend = onSuspend
	s.onResume = onResume
	s.mu.Unlock()
}

// Suspend pauses the scan. Idempotent while suspended.
func (s *Suspender) Suspend(reason string) {
	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		return
	}
	s.suspended = true
	s.reason = reason
	s.resumeCh = make(chan struct{})
	cb := s.onSuspend
	s.mu.Unlock()

	slog.Info("scan suspended", "reason", reason)
	if cb != nil {
		cb(time.Now())
	}
}

// Resume unpauses the scan and wakes every goroutine parked in a checkpoint.
func (s *Suspender) Resume() {
	s.mu.Lock()
	if !s.suspended {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	close(s.resumeCh)
	cb := s.onResume
	s.mu.Unlock()

	slog.Info("scan resumed")
	if cb != nil {
		cb(time.Now())
	}
}

func (s *Suspender) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// wait blocks while the scan is suspended. Returns ctx.Err() if ctx is
// cancelled while waiting.
func (s *Suspender) wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.suspended {
			s.mu.Unlock()
			return nil
		}
		ch := s.resumeCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Indicator reports progress of one scan and carries the scan's cancellation
// and suspension checkpoint.
type Indicator struct {
	mu            sync.Mutex
	text          string
	fraction      float64
	indeterminate bool

	suspender *Suspender // nil means the indicator is not suspendable
}

func NewIndicator() *Indicator {
	return &Indicator{}
}

// NewSuspendableIndicator creates an indicator whose checkpoints honor s.
func NewSuspendableIndicator(s *Suspender) *Indicator {
	return &Indicator{suspender: s}
}

// Suspender returns the attached suspender, or nil.
func (p *Indicator) Suspender() *Suspender { return p.suspender }

func (p *Indicator) SetText(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}

func (p *Indicator) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

func (p *Indicator) SetIndeterminate(v bool) {
	p.mu.Lock()
	p.indeterminate = v
	p.mu.Unlock()
}

func (p *Indicator) SetFraction(f float64) {
	p.mu.Lock()
	if f > p.fraction {
		p.fraction = f
	}
	p.indeterminate = false
	p.mu.Unlock()
}

func (p *Indicator) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction
}

// Checkpoint is the cooperative cancellation and suspension check threaded
// through every loop boundary. It returns ctx.Err() on cancellation and
// blocks while the scan is suspended.
func (p *Indicator) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.suspender != nil {
		return p.suspender.wait(ctx)
	}
	return nil
}

// ConcurrentProgress aggregates per-provider sub-progress into one indicator
// fraction. The fraction only ever grows as sub-tasks finish, irrespective of
// completion order.
type ConcurrentProgress struct {
	indicator   *Indicator
	totalWeight int

	mu         sync.Mutex
	doneWeight int
}

func NewConcurrentProgress(indicator *Indicator, totalWeight int) *ConcurrentProgress {
	return &ConcurrentProgress{indicator: indicator, totalWeight: totalWeight}
}

// SubTask allocates one sub-indicator contributing weight units to the whole.
func (c *ConcurrentProgress) SubTask(weight int) *SubIndicator {
	return &SubIndicator{parent: c, weight: weight}
}

// SubIndicator is the progress handle owned by a single provider task.
type SubIndicator struct {
	parent   *ConcurrentProgress
	weight   int
	finished atomic.Bool
}

func (s *SubIndicator) SetText(text string) {
	s.parent.indicator.SetText(text)
}

// Checkpoint forwards to the parent indicator's checkpoint.
func (s *SubIndicator) Checkpoint(ctx context.Context) error {
	return s.parent.indicator.Checkpoint(ctx)
}

// Finished reports this sub-task as complete exactly once and advances the
// aggregate fraction.
func (s *SubIndicator) Finished() {
	if s.finished.Swap(true) {
		return
	}
	c := s.parent
	c.mu.Lock()
	c.doneWeight += s.weight
	done, total := c.doneWeight, c.totalWeight
	c.mu.Unlock()
	if total > 0 {
		c.indicator.SetFraction(float64(done) / float64(total))
	}
}

// Counters holds live figures updated by worker tasks. All fields are atomic
// so the HTTP status handler can read them without locks.
type Counters struct {
	ProvidersTotal   atomic.Int64
	ProvidersDone    atomic.Int64
	FilesScanned     atomic.Int64
	FilesForIndexing atomic.Int64
	FilesSkipped     atomic.Int64
}
