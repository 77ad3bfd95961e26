package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/frazar/scandex/internal/origin"
)

// fakeProvider serves a fixed in-memory file list, optionally failing partway
// through iteration.
type fakeProvider struct {
	origin origin.Origin
	files  []origin.File

	// failAfter > 0 makes IterateFiles return failErr after that many files
	// were delivered.
	failAfter int
	failErr   error

	// block, when non-nil, is closed by the test to release iteration. Used to
	// hold a provider mid-scan.
	block chan struct{}
}

func newFakeProvider(kind origin.Kind, name string, paths ...string) *fakeProvider {
	p := &fakeProvider{origin: origin.Origin{Kind: kind, Name: name}}
	for _, path := range paths {
		p.files = append(p.files, origin.File{Path: path, Root: "/" + name, Size: 1})
	}
	return p
}

func (p *fakeProvider) Origin() origin.Origin { return p.origin }
func (p *fakeProvider) DebugName() string     { return p.origin.String() }
func (p *fakeProvider) RootsScanningProgressText() string {
	return "Scanning " + p.origin.String() + "..."
}
func (p *fakeProvider) Roots() []string { return []string{"/" + p.origin.Name} }

func (p *fakeProvider) IterateFiles(ctx context.Context, filter *origin.DeduplicateFilter, iter origin.ContentIterator) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	filtered := origin.Filtered(filter, iter)
	for i, f := range p.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.failErr != nil && i == p.failAfter {
			return p.failErr
		}
		if err := filtered(f); err != nil {
			return err
		}
	}
	return nil
}

// fakeIndexService records lifecycle calls and serves a fixed provider list.
type fakeIndexService struct {
	mu        sync.Mutex
	providers []origin.Provider

	loadCalls     int
	clearCalls    int
	startedCalls  int
	finishedCalls int
	collectCalls  int
	lastFull      bool

	loadErr    error
	collectErr error
}

func (s *fakeIndexService) LoadIndexes(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	return s.loadErr
}

func (s *fakeIndexService) ClearIndicesIfNecessary(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	return nil
}

func (s *fakeIndexService) FilesUpdateStarted(p *Project, fullUpdate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedCalls++
	s.lastFull = fullUpdate
}

func (s *fakeIndexService) FilesUpdateFinished(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedCalls++
}

func (s *fakeIndexService) IndexableFilesProviders(ctx context.Context, p *Project) ([]origin.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectCalls++
	if s.collectErr != nil {
		return nil, s.collectErr
	}
	return s.providers, nil
}

// alwaysIndex classifies every file as needing indexing.
type alwaysIndex struct{}

func (alwaysIndex) NeedsIndexing(ctx context.Context, p *Project, f origin.File) (bool, error) {
	return true, nil
}

// classifyFunc adapts a function to UnindexedFileClassifier.
type classifyFunc func(ctx context.Context, p *Project, f origin.File) (bool, error)

func (fn classifyFunc) NeedsIndexing(ctx context.Context, p *Project, f origin.File) (bool, error) {
	return fn(ctx, p, f)
}

// memIndexer records flushed batches in memory.
type memIndexer struct {
	mu      sync.Mutex
	batches [][]QueuedFile
	err     error
}

func (m *memIndexer) IndexFiles(ctx context.Context, files []QueuedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, files)
	return nil
}

func (m *memIndexer) allFiles() []QueuedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []QueuedFile
	for _, b := range m.batches {
		all = append(all, b...)
	}
	return all
}

// recordingDiagnostics captures lifecycle notifications.
type recordingDiagnostics struct {
	mu       sync.Mutex
	started  []*History
	finished []*History
}

func (d *recordingDiagnostics) OnScanningStarted(h *History) {
	d.mu.Lock()
	d.started = append(d.started, h)
	d.mu.Unlock()
}

func (d *recordingDiagnostics) OnScanningFinished(h *History) {
	d.mu.Lock()
	d.finished = append(d.finished, h)
	d.mu.Unlock()
}

var projectSeq int
var projectSeqMu sync.Mutex

// newTestProject returns a project with a unique ID so the process-wide flag
// table never leaks state between tests.
func newTestProject(name string) *Project {
	projectSeqMu.Lock()
	projectSeq++
	id := fmt.Sprintf("%s-%d", name, projectSeq)
	projectSeqMu.Unlock()
	return &Project{ID: id, Name: name}
}

// newTestServices bundles fakes for one scanner run.
func newTestServices(project *Project, providers ...origin.Provider) (*Services, *fakeIndexService, *memIndexer) {
	svc := &fakeIndexService{providers: providers}
	indexer := &memIndexer{}
	services := &Services{
		Index:           svc,
		Queue:           NewIndexingQueue(project, indexer, false),
		Classifier:      alwaysIndex{},
		ScanningWorkers: 2,
	}
	return services, svc, indexer
}
