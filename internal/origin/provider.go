package origin

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// File is a filesystem entry discovered during iteration. Root is the origin
// root the file was found under; classifiers use it as the root context.
type File struct {
	Path  string
	Root  string
	Size  int64
	MTime time.Time
}

// ContentIterator receives one file that passed the deduplication filter.
// Returning an error aborts the provider's iteration; the error is surfaced
// from IterateFiles unchanged.
type ContentIterator func(f File) error

// Provider is the enumerable view over one Origin.
type Provider interface {
	Origin() Origin

	// DebugName identifies the provider in logs and statistics.
	DebugName() string

	// RootsScanningProgressText is the progress-bar hint shown while this
	// provider is being scanned.
	RootsScanningProgressText() string

	// Roots lists the root identities this provider scans.
	Roots() []string

	// IterateFiles calls iter for every file reachable from the origin that
	// has not already been claimed through filter. The claim check happens in
	// the iteration wrapper (see Filtered), not in iter. Cancellation of ctx
	// aborts iteration and is returned as ctx.Err().
	IterateFiles(ctx context.Context, filter *DeduplicateFilter, iter ContentIterator) error
}

// DirectoryProvider scans all regular files under a set of root directories.
type DirectoryProvider struct {
	origin   Origin
	roots    []string
	excludes map[string]struct{}
	workers  int
}

// NewDirectoryProvider creates a provider over the given roots. excludePaths
// entries (files or whole directories) are skipped. workers bounds the
// concurrent directory readers; values below 1 mean sequential traversal.
func NewDirectoryProvider(o Origin, roots, excludePaths []string, workers int) *DirectoryProvider {
	if workers < 1 {
		workers = 1
	}
	excludes := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		excludes[filepath.Clean(p)] = struct{}{}
	}
	cleaned := make([]string, len(roots))
	for i, r := range roots {
		cleaned[i] = filepath.Clean(r)
	}
	return &DirectoryProvider{
		origin:   o,
		roots:    cleaned,
		excludes: excludes,
		workers:  workers,
	}
}

func (p *DirectoryProvider) Origin() Origin { return p.origin }

func (p *DirectoryProvider) DebugName() string {
	return fmt.Sprintf("%s %q", p.origin.Kind, p.origin.Name)
}

func (p *DirectoryProvider) RootsScanningProgressText() string {
	return fmt.Sprintf("Scanning %s %s...", p.origin.Kind, p.origin.Name)
}

func (p *DirectoryProvider) Roots() []string {
	roots := make([]string, len(p.roots))
	copy(roots, p.roots)
	return roots
}

// IterateFiles walks the roots concurrently and delivers unclaimed files to
// iter one at a time (iter itself is never called concurrently). An error
// returned by iter stops the walk and is returned; filesystem errors on
// individual directories are logged by the walker and do not abort the walk.
func (p *DirectoryProvider) IterateFiles(ctx context.Context, filter *DeduplicateFilter, iter ContentIterator) error {
	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan File, 256)
	go walkRoots(walkCtx, p.roots, p.excludes, p.workers, out)

	filtered := Filtered(filter, iter)
	var iterErr error
	for f := range out {
		if iterErr != nil {
			continue // drain so walkers aren't blocked on sends
		}
		if err := filtered(f); err != nil {
			iterErr = err
			cancel()
		}
	}
	if iterErr != nil {
		return iterErr
	}
	return ctx.Err()
}
