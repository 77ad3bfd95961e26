package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/frazar/scandex/internal/origin"
	"github.com/frazar/scandex/internal/scan"
)

// stampSchemaVersion identifies the layout of stored stamps. Bumping it makes
// ClearIndicesIfNecessary wipe all stamps so every file is re-queued.
const stampSchemaVersion = "1"

// stampBatchSize is the number of stamps written per SQLite transaction.
const stampBatchSize = 500

// ProviderSource resolves the ordered provider list of a project from the
// workspace model.
type ProviderSource func(ctx context.Context, p *scan.Project) ([]origin.Provider, error)

// SQLiteService implements the scanner's IndexService and Indexer boundaries
// on top of a per-file stamp store: a file is considered indexed when a
// stamp with its current size and mtime exists. Indexing a batch writes the
// stamps; the classifier (see Finder) treats files without a matching stamp
// as unindexed.
type SQLiteService struct {
	db        *sql.DB
	providers ProviderSource
	loaded    atomic.Bool
}

func NewSQLiteService(db *sql.DB, providers ProviderSource) *SQLiteService {
	return &SQLiteService{db: db, providers: providers}
}

// LoadIndexes verifies the stamp store is reachable. Idempotent; later calls
// are no-ops.
func (s *SQLiteService) LoadIndexes(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}
	s.loaded.Store(true)
	slog.Info("index stamp store loaded")
	return nil
}

// ClearIndicesIfNecessary wipes all stamps when the stored schema version
// does not match the current one, forcing a from-scratch requeue.
func (s *SQLiteService) ClearIndicesIfNecessary(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM index_meta WHERE key = 'stamp_schema_version'`).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read stamp schema version: %w", err)
	}
	if stored == stampSchemaVersion {
		return nil
	}

	slog.Warn("stamp schema changed, clearing index stamps",
		"stored", stored, "current", stampSchemaVersion)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear stamps: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_stamps`); err != nil {
		return fmt.Errorf("clear stamps: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_meta (key, value) VALUES ('stamp_schema_version', ?)`,
		stampSchemaVersion); err != nil {
		return fmt.Errorf("write stamp schema version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteService) FilesUpdateStarted(p *scan.Project, fullUpdate bool) {
	slog.Info("files update started", "project", p.Name, "full", fullUpdate)
}

func (s *SQLiteService) FilesUpdateFinished(p *scan.Project) {
	slog.Info("files update finished", "project", p.Name)
}

func (s *SQLiteService) IndexableFilesProviders(ctx context.Context, p *scan.Project) ([]origin.Provider, error) {
	return s.providers(ctx, p)
}

// IndexFiles records stamps for a committed batch, in transactions of
// stampBatchSize to bound fsync overhead. Implements scan.Indexer.
func (s *SQLiteService) IndexFiles(ctx context.Context, files []scan.QueuedFile) error {
	now := time.Now().Unix()
	for i := 0; i < len(files); i += stampBatchSize {
		end := i + stampBatchSize
		if end > len(files) {
			end = len(files)
		}
		if err := s.writeStampBatch(ctx, files[i:end], now); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteService) writeStampBatch(ctx context.Context, batch []scan.QueuedFile, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stamp tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO index_stamps
			(project, path, root, size, mtime, provider, session_id, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stamp insert: %w", err)
	}
	defer stmt.Close()

	for _, qf := range batch {
		if _, err := stmt.ExecContext(ctx,
			qf.Project, qf.File.Path, qf.File.Root,
			qf.File.Size, qf.File.MTime.Unix(),
			qf.Provider, qf.SessionID, now,
		); err != nil {
			return fmt.Errorf("insert stamp %s: %w", qf.File.Path, err)
		}
	}
	return tx.Commit()
}
