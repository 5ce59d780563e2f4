package index

import (
	"context"
	"sync"
	"testing"
	"time"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/resolve"
	"github.com/semindex/indexcore/internal/taskqueue"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	pkg *resolve.LoadedPackage
}

func (f *fakeLoader) Load(ctx context.Context, root string, setup indexcore.BuildSetupConfig, indexOnly bool) (*resolve.LoadedPackage, error) {
	return f.pkg, nil
}

func twoTargetPackage() *resolve.LoadedPackage {
	return &resolve.LoadedPackage{
		ManifestPath: "/ws/Package.swift",
		Targets: []resolve.LoadedTarget{
			{
				Name:                "Base",
				RunDestinationID:    "macosx",
				SourceRoot:          "/ws/Sources/Base",
				Sources:             []string{"/ws/Sources/Base/a.swift"},
				CompileArgsTemplate: []string{"swiftc", "%FILE%"},
			},
			{
				Name:                "Lib",
				RunDestinationID:    "macosx",
				SourceRoot:          "/ws/Sources/Lib",
				Sources:             []string{"/ws/Sources/Lib/b.swift"},
				Dependencies:        []string{"Base"},
				CompileArgsTemplate: []string{"swiftc", "%FILE%"},
			},
		},
	}
}

func newTestResolver(t *testing.T) *resolve.Resolver {
	t.Helper()
	r := resolve.New("/ws", &fakeLoader{pkg: twoTargetPackage()}, indexcore.BuildSetupConfig{}, false, nil)
	require.NoError(t, r.Reload(context.Background()))
	return r
}

type fakePreparer struct {
	mu      sync.Mutex
	prepped []indexcore.ConfiguredTarget
	err     error
	errFor  map[indexcore.ConfiguredTarget]error
}

func (p *fakePreparer) Prepare(ctx context.Context, target indexcore.ConfiguredTarget) error {
	p.mu.Lock()
	p.prepped = append(p.prepped, target)
	err := p.err
	if p.errFor != nil {
		if e, ok := p.errFor[target]; ok {
			err = e
		}
	}
	p.mu.Unlock()
	return err
}

type fakeIndexer struct {
	mu      sync.Mutex
	updated []string
	err     error
}

func (x *fakeIndexer) UpdateIndexStore(ctx context.Context, file string, settings resolve.FileBuildSettings) error {
	x.mu.Lock()
	x.updated = append(x.updated, file)
	x.mu.Unlock()
	return x.err
}

type fakeDelegate struct {
	mu   sync.Mutex
	deps [][]string
}

func (d *fakeDelegate) FileDependenciesUpdated(uris []string) {
	d.mu.Lock()
	d.deps = append(d.deps, uris)
	d.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakePreparer, *fakeIndexer, *fakeDelegate) {
	t.Helper()
	r := newTestResolver(t)
	sched := taskqueue.New(4)
	t.Cleanup(sched.Close)
	prep := &fakePreparer{}
	idx := &fakeIndexer{}
	del := &fakeDelegate{}
	m := New(r, sched, prep, idx, del, nil)
	return m, prep, idx, del
}

func TestScheduleBackgroundIndexIndexesAllGivenFiles(t *testing.T) {
	m, _, idx, _ := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift", "/ws/Sources/Lib/b.swift"})
	require.NoError(t, h.Wait(context.Background()))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.ElementsMatch(t, []string{"/ws/Sources/Base/a.swift", "/ws/Sources/Lib/b.swift"}, idx.updated)
}

func TestScheduleBackgroundIndexSkipsUpToDateFiles(t *testing.T) {
	m, _, idx, _ := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift"})
	require.NoError(t, h.Wait(context.Background()))

	h2 := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift"})
	require.NoError(t, h2.Wait(context.Background()))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.Len(t, idx.updated, 1) // second schedule filtered it out as already up to date
}

func TestScheduleBackgroundIndexDropsFilesWithNoOwningTarget(t *testing.T) {
	m, _, idx, _ := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Unknown/z.swift"})
	require.NoError(t, h.Wait(context.Background()))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.Empty(t, idx.updated)
}

func TestIndexingPreparesTargetsInTopologicalOrder(t *testing.T) {
	m, prep, _, _ := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Lib/b.swift", "/ws/Sources/Base/a.swift"})
	require.NoError(t, h.Wait(context.Background()))

	prep.mu.Lock()
	defer prep.mu.Unlock()
	require.Len(t, prep.prepped, 2)
	require.Equal(t, "Base", prep.prepped[0].TargetID) // Base has no deps, must prepare first
	require.Equal(t, "Lib", prep.prepped[1].TargetID)
}

// A target that fails to prepare must not abort the index pass: Wait reports
// no error and the other target's file is still indexed. Each batch holds one
// target, so Base and Lib are prepared in separate batches here.
func TestPrepareFailureForOneTargetDoesNotAbortBatch(t *testing.T) {
	m, prep, idx, _ := newTestManager(t)
	prep.errFor = map[indexcore.ConfiguredTarget]error{
		{TargetID: "Base", RunDestinationID: "macosx"}: errPrepareFailed,
	}

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift", "/ws/Sources/Lib/b.swift"})
	require.NoError(t, h.Wait(context.Background()))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.ElementsMatch(t, []string{"/ws/Sources/Lib/b.swift"}, idx.updated)
}

type prepareError struct{ msg string }

func (e *prepareError) Error() string { return e.msg }

var errPrepareFailed = &prepareError{"prepare failed"}

func TestInProgressIndexTasksReflectsStateMachine(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift"})
	require.NoError(t, h.Wait(context.Background()))

	tasks := m.InProgressIndexTasks()
	require.Empty(t, tasks.Scheduled)
	require.Empty(t, tasks.Executing) // finished indexing leaves no in-progress entries
}

func TestWaitForUpToDateIndexFilesWaitsOnlyOnRequestedWork(t *testing.T) {
	m, _, idx, _ := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitForUpToDateIndexFiles(ctx, []string{"/ws/Sources/Base/a.swift"}))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.Contains(t, idx.updated, "/ws/Sources/Base/a.swift")
}

func TestBuildGraphGenerationOnlyAdmitsOneAtATime(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	h1 := m.ScheduleBuildGraphGenerationAndBackgroundIndexAllFiles()
	h2 := m.ScheduleBuildGraphGenerationAndBackgroundIndexAllFiles()
	require.Equal(t, h1.ID(), h2.ID())

	require.NoError(t, h1.Wait(context.Background()))
}

func TestDependenciesUpdatedFiresAfterPrepare(t *testing.T) {
	m, _, _, del := newTestManager(t)

	h := m.ScheduleBackgroundIndex([]string{"/ws/Sources/Base/a.swift"})
	require.NoError(t, h.Wait(context.Background()))

	require.Eventually(t, func() bool {
		del.mu.Lock()
		defer del.mu.Unlock()
		return len(del.deps) == 1
	}, time.Second, 10*time.Millisecond)
}
