package index

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/frazar/scandex/internal/db"
	"github.com/frazar/scandex/internal/origin"
	"github.com/frazar/scandex/internal/scan"
)

// newTestDB opens a migrated SQLite database in a temp dir.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return database
}

func queuedFile(project, path string, size int64, mtime time.Time) scan.QueuedFile {
	return scan.QueuedFile{
		File:      origin.File{Path: path, Root: filepath.Dir(path), Size: size, MTime: mtime},
		Project:   project,
		Provider:  `content "test"`,
		SessionID: "session-test",
	}
}

func countRows(t *testing.T, database *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
