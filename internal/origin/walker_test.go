package origin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

// TestDirQueueNeverLosesItems pushes 5 000 items, pops all, and verifies the
// exact set is returned (compaction must not drop entries).
func TestDirQueueNeverLosesItems(t *testing.T) {
	const n = 5000
	q := newDirQueue()

	for i := 0; i < n; i++ {
		q.pending.Add(1)
		q.Push(dirEntry{dir: fmt.Sprintf("dir%04d", i), root: "r"})
	}

	var got []string
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, item.dir)
		q.Done()
	}

	if len(got) != n {
		t.Fatalf("got %d items, want %d", len(got), n)
	}
	sort.Strings(got)
	for i, v := range got {
		if want := fmt.Sprintf("dir%04d", i); v != want {
			t.Errorf("item %d: got %q, want %q", i, v, want)
		}
	}
}

// TestDirQueueCompactionBoundsMemory interleaves push/pop batches and verifies
// the backing slice doesn't grow to the total number of historical pushes.
func TestDirQueueCompactionBoundsMemory(t *testing.T) {
	const batchSize = 2000
	const batches = 5 // total pushes = 10 000
	q := newDirQueue()

	for b := 0; b < batches; b++ {
		for i := 0; i < batchSize; i++ {
			q.pending.Add(1)
			q.Push(dirEntry{dir: fmt.Sprintf("d%d_%04d", b, i), root: "r"})
		}
		for i := 0; i < batchSize; i++ {
			if _, ok := q.Pop(); !ok {
				t.Fatal("queue closed unexpectedly during drain")
			}
			q.Done()
		}
	}

	q.mu.Lock()
	remaining := len(q.items) - q.head
	totalCap := cap(q.items)
	q.mu.Unlock()

	if remaining != 0 {
		t.Errorf("expected empty queue after full drain, got %d remaining items", remaining)
	}
	totalPushes := batchSize * batches
	if totalCap >= totalPushes {
		t.Errorf("backing array capacity %d >= total pushes %d, compaction not releasing memory",
			totalCap, totalPushes)
	}
}

// TestWalkRootsFindsAllFiles creates a tree of 15 files across 3 subdirs and
// verifies the walk emits all of them with the right root.
func TestWalkRootsFindsAllFiles(t *testing.T) {
	root := t.TempDir()
	want := map[string]struct{}{}
	for i := 0; i < 3; i++ {
		sub := filepath.Join(root, fmt.Sprintf("sub%d", i))
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}
		for j := 0; j < 5; j++ {
			p := filepath.Join(sub, fmt.Sprintf("file%d.txt", j))
			if err := os.WriteFile(p, []byte("hello"), 0644); err != nil {
				t.Fatal(err)
			}
			want[p] = struct{}{}
		}
	}

	out := make(chan File, 100)
	go walkRoots(context.Background(), []string{root}, nil, 4, out)

	got := map[string]struct{}{}
	for f := range out {
		got[f.Path] = struct{}{}
		if f.Root != root {
			t.Errorf("file %q has root %q, want %q", f.Path, f.Root, root)
		}
	}
	for p := range want {
		if _, ok := got[p]; !ok {
			t.Errorf("missing expected file %q", p)
		}
	}
	if len(got) != len(want) {
		t.Errorf("found %d files, want %d", len(got), len(want))
	}
}

// TestWalkRootsExcludes verifies that an excluded file and an excluded
// directory subtree are both skipped while siblings are still found.
func TestWalkRootsExcludes(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.txt")
	skip := filepath.Join(root, "skip.txt")
	skipDir := filepath.Join(root, "node_modules")
	_ = os.WriteFile(keep, []byte("a"), 0644)
	_ = os.WriteFile(skip, []byte("b"), 0644)
	_ = os.Mkdir(skipDir, 0755)
	_ = os.WriteFile(filepath.Join(skipDir, "dep.js"), []byte("c"), 0644)

	excludes := map[string]struct{}{skip: {}, skipDir: {}}
	out := make(chan File, 10)
	go walkRoots(context.Background(), []string{root}, excludes, 2, out)

	got := map[string]struct{}{}
	for f := range out {
		got[f.Path] = struct{}{}
	}
	if _, ok := got[skip]; ok {
		t.Errorf("excluded file %q was emitted", skip)
	}
	if len(got) != 1 {
		t.Errorf("got %d files, want only %q", len(got), keep)
	}
	if _, ok := got[keep]; !ok {
		t.Errorf("expected file %q was not emitted", keep)
	}
}

// TestWalkRootsEmptyRoots verifies a walk over no roots closes out instead of
// parking its workers forever waiting for work that never arrives.
func TestWalkRootsEmptyRoots(t *testing.T) {
	out := make(chan File)
	done := make(chan struct{})
	go func() {
		walkRoots(context.Background(), nil, nil, 2, out)
		close(done)
	}()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("walk over no roots emitted a file")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("walk over no roots did not close out")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("walk over no roots did not return")
	}
}

// TestWalkRootsCancellation verifies the walk terminates and closes out after
// ctx is cancelled.
func TestWalkRootsCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		_ = os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.txt", i)), []byte("data"), 0644)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan File, 8)

	done := make(chan struct{})
	go func() {
		walkRoots(ctx, []string{root}, nil, 2, out)
		close(done)
	}()

	cancel()
	for range out {
	} // drain so walkers aren't blocked on sends

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("walk did not return after context cancel")
	}
}
