package index

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/frazar/scandex/internal/origin"
	"github.com/frazar/scandex/internal/scan"
)

// stamp is the cached identity of an already-indexed file.
type stamp struct {
	size  int64
	mtime int64
}

// Finder is the unindexed-files classifier: a file requires indexing iff no
// stamp with its current size and mtime exists. Stamp lookups hit an LRU
// first so repeated scans of a mostly-indexed tree stay off the database.
// Safe for concurrent use by provider scan tasks.
type Finder struct {
	db    *sql.DB
	cache *lru.Cache[string, stamp]
}

// NewFinder creates a Finder with an LRU of cacheSize stamp entries.
func NewFinder(db *sql.DB, cacheSize int) (*Finder, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[string, stamp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create stamp cache: %w", err)
	}
	return &Finder{db: db, cache: cache}, nil
}

// NeedsIndexing implements scan.UnindexedFileClassifier.
func (f *Finder) NeedsIndexing(ctx context.Context, p *scan.Project, file origin.File) (bool, error) {
	key := p.ID + "\x00" + file.Path
	mtime := file.MTime.Unix()

	if st, ok := f.cache.Get(key); ok {
		if st.size == file.Size && st.mtime == mtime {
			return false, nil
		}
		// Stale cache entry; fall through to the store.
		f.cache.Remove(key)
	}

	var st stamp
	err := f.db.QueryRowContext(ctx,
		`SELECT size, mtime FROM index_stamps WHERE project = ? AND path = ?`,
		p.ID, file.Path,
	).Scan(&st.size, &st.mtime)
	switch {
	case err == sql.ErrNoRows:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("stamp lookup %s: %w", file.Path, err)
	}

	if st.size == file.Size && st.mtime == mtime {
		f.cache.Add(key, st)
		return false, nil
	}
	return true, nil
}
