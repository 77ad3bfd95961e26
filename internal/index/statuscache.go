package index

import (
	"log/slog"
	"sync/atomic"

	"github.com/frazar/scandex/internal/scan"
)

// Mark is the validity token issued by one status collection. It stays valid
// until the cache's generation moves on.
type Mark struct {
	cache      *StatusCache
	generation uint64
}

// StillValid implements scan.StatusMark.
func (m *Mark) StillValid() bool {
	return m.cache.generation.Load() == m.generation
}

// StatusCache implements the scanner's dependency-status boundary with a
// generation counter: collecting status issues a mark pinned to the current
// generation, and any event that could change the provider set (a failed
// scan, an explicit invalidation) advances it.
type StatusCache struct {
	enabled    bool
	generation atomic.Uint64
}

func NewStatusCache(enabled bool) *StatusCache {
	return &StatusCache{enabled: enabled}
}

func (c *StatusCache) ShouldBeUsed() bool { return c.enabled }

func (c *StatusCache) StartCollectingStatus() {
	slog.Debug("status cache: collection started", "generation", c.generation.Load())
}

func (c *StatusCache) FinishCollectingStatus() scan.StatusMark {
	return &Mark{cache: c, generation: c.generation.Load()}
}

// IndexingFinished records the outcome of a scan that collected status. An
// unsuccessful scan, or one without a surviving mark, invalidates the cache.
func (c *StatusCache) IndexingFinished(success bool, mark scan.StatusMark) {
	if !success || mark == nil || !mark.StillValid() {
		c.Invalidate()
	}
	slog.Debug("status cache: indexing finished", "success", success,
		"generation", c.generation.Load())
}

// Invalidate advances the generation, expiring all outstanding marks. Called
// whenever the workspace provider set changes.
func (c *StatusCache) Invalidate() {
	c.generation.Add(1)
}
