package scan

import (
	"testing"
	"time"
)

func TestMergeTypesBroadens(t *testing.T) {
	cases := []struct {
		a, b, want Type
	}{
		{TypePartial, TypePartial, TypePartial},
		{TypePartial, TypeFull, TypeFull},
		{TypeFull, TypePartial, TypeFull},
		{TypeFull, TypeFullOnOpen, TypeFullOnOpen},
		{TypeFullOnOpen, TypePartial, TypeFullOnOpen},
		{TypeFullOnOpen, TypeFullOnOpen, TypeFullOnOpen},
	}
	for _, c := range cases {
		if got := MergeTypes(c.a, c.b); got != c.want {
			t.Errorf("MergeTypes(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestHistoryStageTiming(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	base := time.Now()

	h.StartStage(StageCreatingIterators, base)
	h.StopStage(StageCreatingIterators, base.Add(100*time.Millisecond))

	// A stage may run more than once per session; durations accumulate.
	h.StartStage(StageCreatingIterators, base.Add(time.Second))
	h.StopStage(StageCreatingIterators, base.Add(time.Second+50*time.Millisecond))

	got := h.StageTiming(StageCreatingIterators)
	if got.Total != 150*time.Millisecond {
		t.Errorf("stage total = %v, want 150ms", got.Total)
	}
	if got.Suspended != 0 {
		t.Errorf("stage suspended = %v, want 0", got.Suspended)
	}
}

func TestHistoryStageMisusePanics(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("stopping a never-started stage should panic")
			}
		}()
		h.StopStage(StageCollectingFiles, time.Now())
	}()

	h.StartStage(StageCollectingFiles, time.Now())
	func() {
		defer func() {
			if recover() == nil {
				t.Error("starting a running stage again should panic")
			}
		}()
		h.StartStage(StageCollectingFiles, time.Now())
	}()
}

// TestHistorySuspendChargedToRunningStage verifies a suspend interval counts
// against the session and against the stage that was running during it, but
// only from the moment the stage started.
func TestHistorySuspendChargedToRunningStage(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	base := time.Now()

	h.StartStage(StageCollectingFiles, base)
	h.Suspend(base.Add(100 * time.Millisecond))
	h.Resume(base.Add(400 * time.Millisecond))
	h.StopStage(StageCollectingFiles, base.Add(500*time.Millisecond))

	if got := h.SuspendedDuration(); got != 300*time.Millisecond {
		t.Errorf("session suspended = %v, want 300ms", got)
	}
	st := h.StageTiming(StageCollectingFiles)
	if st.Suspended != 300*time.Millisecond {
		t.Errorf("stage suspended = %v, want 300ms", st.Suspended)
	}
	if st.Total != 500*time.Millisecond {
		t.Errorf("stage total = %v, want 500ms", st.Total)
	}
}

// TestHistorySuspendClampedToStageStart covers a stage starting while the
// session is already suspended: only the overlap counts against the stage.
func TestHistorySuspendClampedToStageStart(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	base := time.Now()

	h.Suspend(base)
	h.StartStage(StageCollectingFiles, base.Add(200*time.Millisecond))
	h.Resume(base.Add(500 * time.Millisecond))
	h.StopStage(StageCollectingFiles, base.Add(600*time.Millisecond))

	if got := h.SuspendedDuration(); got != 500*time.Millisecond {
		t.Errorf("session suspended = %v, want 500ms", got)
	}
	st := h.StageTiming(StageCollectingFiles)
	if st.Suspended != 300*time.Millisecond {
		t.Errorf("stage suspended = %v, want 300ms (clamped to stage start)", st.Suspended)
	}
}

// TestHistoryOpenSuspendAccountedOnStop verifies a stage stopped while the
// session is still suspended charges the open interval.
func TestHistoryOpenSuspendAccountedOnStop(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	base := time.Now()

	h.StartStage(StageCollectingFiles, base)
	h.Suspend(base.Add(100 * time.Millisecond))
	h.StopStage(StageCollectingFiles, base.Add(300*time.Millisecond))

	st := h.StageTiming(StageCollectingFiles)
	if st.Suspended != 200*time.Millisecond {
		t.Errorf("stage suspended = %v, want 200ms", st.Suspended)
	}
}

func TestHistorySuspendResumeIdempotent(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	base := time.Now()

	h.Suspend(base)
	h.Suspend(base.Add(50 * time.Millisecond)) // ignored, already suspended
	h.Resume(base.Add(100 * time.Millisecond))
	h.Resume(base.Add(200 * time.Millisecond)) // ignored, not suspended

	if got := h.SuspendedDuration(); got != 100*time.Millisecond {
		t.Errorf("session suspended = %v, want 100ms", got)
	}
}

// TestHistoryStatisticsBarrier verifies appends after closeStatistics are
// dropped and reported as rejected.
func TestHistoryStatisticsBarrier(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)

	if !h.AddStatistics(NewStatistics("early provider")) {
		t.Fatal("append before close should be accepted")
	}
	h.closeStatistics()
	if h.AddStatistics(NewStatistics("late provider")) {
		t.Fatal("append after close should be rejected")
	}

	stats := h.Statistics()
	if len(stats) != 1 {
		t.Fatalf("got %d records, want 1", len(stats))
	}
	if stats[0].ProviderDebugName != "early provider" {
		t.Errorf("kept record %q, want the early one", stats[0].ProviderDebugName)
	}
}

func TestHistoryInterrupted(t *testing.T) {
	h := NewHistory(newTestProject("p"), "test", TypeFull)
	if h.WasInterrupted() {
		t.Fatal("fresh history must not be interrupted")
	}
	h.MarkInterrupted()
	h.MarkInterrupted()
	if !h.WasInterrupted() {
		t.Fatal("history must stay interrupted once marked")
	}
}

func TestStatisticsTimersIdempotent(t *testing.T) {
	s := NewStatistics("p")
	base := time.Now()

	s.StartIteration(base)
	s.TryFinishIteration(base.Add(100 * time.Millisecond))
	s.TryFinishIteration(base.Add(5 * time.Second)) // finalizer path, ignored
	if s.IterationTime != 100*time.Millisecond {
		t.Errorf("iteration time = %v, want 100ms", s.IterationTime)
	}

	// Never-started checking stays zero even when the finalizer fires.
	s.TryFinishChecking(base.Add(time.Second))
	if s.CheckingTime != 0 {
		t.Errorf("checking time = %v, want 0", s.CheckingTime)
	}
}
