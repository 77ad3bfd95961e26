package origin

import (
	"sync"
	"sync/atomic"
)

// DeduplicateFilter assigns each discovered file to at most one provider for
// the duration of one scan. One root filter is shared by the whole scan; each
// provider task holds a delegating view created with NewDelegatingFilter.
// Claims made through any view are globally visible, while skip counts are
// tracked per view so statistics can report how many files a provider lost to
// a sibling.
//
// Safe for concurrent use from multiple scan tasks.
type DeduplicateFilter struct {
	// root is nil on the root filter itself.
	root *DeduplicateFilter

	mu      sync.Mutex
	claimed map[string]struct{}

	skipped atomic.Int64
}

// NewDeduplicateFilter creates a root filter owning the claimed set.
func NewDeduplicateFilter() *DeduplicateFilter {
	return &DeduplicateFilter{claimed: make(map[string]struct{})}
}

// NewDelegatingFilter creates a thin view forwarding claims to parent's root.
// Chains of delegates all share the root's claimed set.
func NewDelegatingFilter(parent *DeduplicateFilter) *DeduplicateFilter {
	root := parent
	if parent.root != nil {
		root = parent.root
	}
	return &DeduplicateFilter{root: root}
}

// Claim atomically claims path for the caller. It returns true exactly once
// per path across the whole filter tree; later calls from any view return
// false and increment that view's skipped counter.
func (f *DeduplicateFilter) Claim(path string) bool {
	root := f
	if f.root != nil {
		root = f.root
	}
	root.mu.Lock()
	_, dup := root.claimed[path]
	if !dup {
		root.claimed[path] = struct{}{}
	}
	root.mu.Unlock()
	if dup {
		f.skipped.Add(1)
		return false
	}
	return true
}

// SkippedCount returns how many Claim calls through this view returned false.
func (f *DeduplicateFilter) SkippedCount() int64 {
	return f.skipped.Load()
}

// Filtered wraps iter so that files already claimed by another provider are
// silently skipped. Providers use this so they never consult the filter
// directly in their walk loops.
func Filtered(f *DeduplicateFilter, iter ContentIterator) ContentIterator {
	return func(file File) error {
		if !f.Claim(file.Path) {
			return nil
		}
		return iter(file)
	}
}
