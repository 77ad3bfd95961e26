package scan

import "sync"

// Project identifies one scanned workspace. ID is the stable identity used
// to key per-project state; Name is for logs and debug strings.
type Project struct {
	ID   string
	Name string
}

func (p *Project) String() string { return p.Name }

type flagKey int

const (
	flagContentScanned flagKey = iota
	flagUpdateInProgress
	flagFirstScanningRequested
)

// flagTable is the process-wide side-table of tri-state per-project flags
// (unset / true / false). Flags survive for the project's lifetime and are
// reset only at the points documented on the accessors below.
type flagTable struct {
	mu sync.Mutex
	m  map[string]map[flagKey]bool
}

func newFlagTable() *flagTable {
	return &flagTable{m: make(map[string]map[flagKey]bool)}
}

func (t *flagTable) set(p *Project, k flagKey, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flags := t.m[p.ID]
	if flags == nil {
		flags = make(map[flagKey]bool)
		t.m[p.ID] = flags
	}
	flags[k] = v
}

func (t *flagTable) clear(p *Project, k flagKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if flags := t.m[p.ID]; flags != nil {
		delete(flags, k)
	}
}

// get returns (value, set).
func (t *flagTable) get(p *Project, k flagKey) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flags := t.m[p.ID]
	if flags == nil {
		return false, false
	}
	v, ok := flags[k]
	return v, ok
}

var projectFlags = newFlagTable()

// IsIndexUpdateInProgress reports whether a Scanner is currently performing
// for the project. Set on Perform entry, cleared (to false) on every exit
// path.
func IsIndexUpdateInProgress(p *Project) bool {
	v, ok := projectFlags.get(p, flagUpdateInProgress)
	return ok && v
}

// IsProjectContentFullyScanned reports whether a full update completed its
// collecting stage. Reset to unset when a new full-update Scanner is
// constructed.
func IsProjectContentFullyScanned(p *Project) bool {
	v, ok := projectFlags.get(p, flagContentScanned)
	return ok && v
}

// IsFirstScanningRequested reports whether ScanAndIndexProjectAfterOpen was
// called for the project.
func IsFirstScanningRequested(p *Project) bool {
	v, ok := projectFlags.get(p, flagFirstScanningRequested)
	return ok && v
}
