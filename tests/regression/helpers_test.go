package regression_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frazar/scandex/internal/db"
	"github.com/frazar/scandex/internal/executor"
	"github.com/frazar/scandex/internal/index"
	"github.com/frazar/scandex/internal/origin"
	"github.com/frazar/scandex/internal/scan"
)

// engine is one fully wired scan stack over a real SQLite database, the way
// main assembles it.
type engine struct {
	db       *sql.DB
	project  *scan.Project
	services *scan.Services
	history  *index.HistoryStore
	exec     *executor.Executor
}

var engineSeq int

// newEngine wires the stack with the given provider source.
func newEngine(t *testing.T, providers func(ctx context.Context, p *scan.Project) ([]origin.Provider, error)) *engine {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "scandex.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	engineSeq++
	project := &scan.Project{ID: fmt.Sprintf("regression-%d", engineSeq), Name: "regression"}

	svc := index.NewSQLiteService(database, providers)
	finder, err := index.NewFinder(database, 1024)
	if err != nil {
		t.Fatalf("finder: %v", err)
	}
	history := index.NewHistoryStore(database)

	services := &scan.Services{
		Index:           svc,
		Queue:           scan.NewIndexingQueue(project, svc, false),
		Classifier:      finder,
		StatusCache:     index.NewStatusCache(true),
		Diagnostics:     []scan.DiagnosticsListener{history},
		ScanningWorkers: 2,
	}
	return &engine{
		db:       database,
		project:  project,
		services: services,
		history:  history,
		exec:     executor.New(context.Background()),
	}
}

// runFullScan submits a full scan and waits for it to finish.
func (e *engine) runFullScan(t *testing.T, reason string) {
	t.Helper()
	e.exec.Submit(scan.NewFullScanner(e.project, e.services, reason))
	e.exec.Wait()
}

// stampCount returns the number of index stamps for the engine's project.
func (e *engine) stampCount(t *testing.T) int {
	t.Helper()
	var n int
	err := e.db.QueryRow(
		`SELECT COUNT(*) FROM index_stamps WHERE project = ?`, e.project.ID).Scan(&n)
	if err != nil {
		t.Fatalf("count stamps: %v", err)
	}
	return n
}

// lastSession returns the most recent persisted session.
func (e *engine) lastSession(t *testing.T) index.SessionRecord {
	t.Helper()
	sessions, err := e.history.ListSessions(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) == 0 {
		t.Fatal("no scan session was persisted")
	}
	return sessions[0]
}

// makeTree creates n small files under a fresh subdirectory of base.
func makeTree(t *testing.T, base, name string, n int) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("file%03d.txt", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("content %s %d", name, i)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// gateProvider blocks iteration until its gate closes, then emits its files.
type gateProvider struct {
	name  string
	files []origin.File
	gate  chan struct{}
}

func (p *gateProvider) Origin() origin.Origin {
	return origin.Origin{Kind: origin.KindContent, Name: p.name}
}
func (p *gateProvider) DebugName() string                 { return p.name }
func (p *gateProvider) RootsScanningProgressText() string { return "Scanning " + p.name + "..." }
func (p *gateProvider) Roots() []string                   { return []string{"/" + p.name} }

func (p *gateProvider) IterateFiles(ctx context.Context, filter *origin.DeduplicateFilter, iter origin.ContentIterator) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	filtered := origin.Filtered(filter, iter)
	for _, f := range p.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := filtered(f); err != nil {
			return err
		}
	}
	return nil
}

func waitUntil(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + what)
		case <-time.After(time.Millisecond):
		}
	}
}
