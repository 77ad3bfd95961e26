package scan

import "time"

// Statistics is the per-provider record collected while scanning one origin.
// A record is exclusively owned by its provider task until it is handed to
// the history, so the fields need no synchronization.
type Statistics struct {
	ProviderDebugName string
	Roots             []string

	// FilesScanned counts files this provider claimed and classified.
	FilesScanned int
	// FilesForIndexing counts files written to the provider's sink.
	FilesForIndexing int
	// FilesSkipped counts files lost to a sibling provider's earlier claim.
	FilesSkipped int64

	// IterationTime covers filesystem enumeration, CheckingTime covers
	// classification, TotalTime is wall time including pauses.
	IterationTime time.Duration
	CheckingTime  time.Duration
	TotalTime     time.Duration

	iterationStart time.Time
	iterationDone  bool
	checkingStart  time.Time
	checkingDone   bool
}

func NewStatistics(providerDebugName string) *Statistics {
	return &Statistics{ProviderDebugName: providerDebugName}
}

func (s *Statistics) SetRoots(roots []string) {
	s.Roots = roots
}

func (s *Statistics) StartIteration(t time.Time) {
	s.iterationStart = t
	s.iterationDone = false
}

// TryFinishIteration closes the iteration timer; safe to call again on the
// finalization path after a normal finish.
func (s *Statistics) TryFinishIteration(t time.Time) {
	if s.iterationDone || s.iterationStart.IsZero() {
		return
	}
	s.IterationTime += t.Sub(s.iterationStart)
	s.iterationDone = true
}

func (s *Statistics) StartChecking(t time.Time) {
	s.checkingStart = t
	s.checkingDone = false
}

// TryFinishChecking closes the checking timer; idempotent like
// TryFinishIteration.
func (s *Statistics) TryFinishChecking(t time.Time) {
	if s.checkingDone || s.checkingStart.IsZero() {
		return
	}
	s.CheckingTime += t.Sub(s.checkingStart)
	s.checkingDone = true
}
