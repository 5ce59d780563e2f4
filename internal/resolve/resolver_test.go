package resolve

import (
	"bytes"
	"context"
	"log"
	"testing"

	indexcore "github.com/semindex/indexcore"
	"github.com/stretchr/testify/require"
)

// fakeLoader returns a fixed sequence of LoadedPackage/error pairs, one per
// call, and panics if called more times than it was primed for.
type fakeLoader struct {
	calls   int
	results []*LoadedPackage
	errs    []error
}

func (f *fakeLoader) Load(ctx context.Context, root string, setup indexcore.BuildSetupConfig, indexOnly bool) (*LoadedPackage, error) {
	i := f.calls
	f.calls++
	return f.results[i], f.errs[i]
}

func libPackage() *LoadedPackage {
	return &LoadedPackage{
		ManifestPath:     "/ws/Package.swift",
		InterpreterFlags: []string{"-swift-tools-version", "5.5"},
		Targets: []LoadedTarget{
			{
				Name:                "Lib",
				RunDestinationID:    "macosx",
				SourceRoot:          "/ws/Sources/Lib",
				Sources:             []string{"/ws/Sources/Lib/a.swift", "/ws/Sources/Lib/b.swift"},
				CompileArgsTemplate: []string{"swiftc", "-c", "%FILE%"},
				WorkingDirectory:    "/ws",
			},
		},
	}
}

func newTestResolver(t *testing.T, loader PackageLoader) *Resolver {
	t.Helper()
	return New("/ws", loader, indexcore.BuildSetupConfig{}, false, nil)
}

// Scenario 1 (spec §8): a header belonging to a target's source root
// resolves to that target, and its build settings are the substitute file's
// template with the substitute path patched out for the header's own path.
func TestBuildSettingsSubstituteFileForHeader(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	headerURI := "file:///ws/Sources/Lib/include/h.h"
	targets := r.ConfiguredTargets(headerURI)
	require.Len(t, targets, 1)
	ct := targets[0]
	require.Equal(t, "Lib", ct.TargetID)

	settings, err := r.BuildSettings(headerURI, ct, "c")
	require.NoError(t, err)
	require.Equal(t, []string{"swiftc", "-c", "/ws/Sources/Lib/include/h.h"}, settings.Arguments)
	require.Equal(t, "/ws", settings.WorkingDirectory)
}

// Scenario 2 (spec §8): querying the manifest path addresses the sentinel
// ConfiguredTarget, and its settings are the interpreter flags plus the
// manifest path.
func TestBuildSettingsManifestSentinel(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	manifestURI := "file:///ws/Package.swift"
	targets := r.ConfiguredTargets(manifestURI)
	require.Len(t, targets, 1)
	require.True(t, targets[0].IsManifest())

	settings, err := r.BuildSettings(manifestURI, targets[0], "swift")
	require.NoError(t, err)
	require.Equal(t, []string{"-swift-tools-version", "5.5", "/ws/Package.swift"}, settings.Arguments)
}

func TestBuildSettingsDirectSourceNoPatching(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	uri := "file:///ws/Sources/Lib/b.swift"
	targets := r.ConfiguredTargets(uri)
	require.Len(t, targets, 1)

	settings, err := r.BuildSettings(uri, targets[0], "swift")
	require.NoError(t, err)
	require.Equal(t, []string{"swiftc", "-c", "/ws/Sources/Lib/b.swift"}, settings.Arguments)
}

// Invariant 3 (spec §3/§8): if Load fails, the prior snapshot (targets,
// fileToTarget, sourceDirToTarget) is left completely unchanged.
func TestReloadAtomicOnLoadFailure(t *testing.T) {
	loader := &fakeLoader{
		results: []*LoadedPackage{libPackage(), nil},
		errs:    []error{nil, errBoom},
	}

	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	before := r.currentSnapshot()
	require.Len(t, before.targets, 1)

	err := r.Reload(context.Background())
	require.Error(t, err)

	after := r.currentSnapshot()
	require.Same(t, before, after)
}

// OnReloadStatus must fire ReloadEnd even when the underlying load fails
// (resolved Open Question: the callback is unconditional).
func TestOnReloadStatusFiresEndOnFailure(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{nil}, errs: []error{errBoom}}
	r := newTestResolver(t, loader)

	var statuses []ReloadStatus
	r.OnReloadStatus = func(s ReloadStatus) { statuses = append(statuses, s) }

	err := r.Reload(context.Background())
	require.Error(t, err)
	require.Equal(t, []ReloadStatus{ReloadStart, ReloadEnd}, statuses)
}

func TestDuplicateConfiguredTargetLogsFault(t *testing.T) {
	pkg := libPackage()
	pkg.Targets = append(pkg.Targets, LoadedTarget{
		Name:             "Lib",
		RunDestinationID: "macosx",
		Sources:          []string{"/ws/Sources/Lib/other.swift"},
	})
	loader := &fakeLoader{results: []*LoadedPackage{pkg}, errs: []error{nil}}

	var logs bytes.Buffer
	r := New("/ws", loader, indexcore.BuildSetupConfig{}, false, log.New(&logs, "", 0))
	require.NoError(t, r.Reload(context.Background()))

	snap := r.currentSnapshot()
	require.Len(t, snap.targets, 1) // duplicate key collapses; last one wins, fault logged
	require.Contains(t, logs.String(), "fault: duplicate configured target Lib (macosx)")
}

func TestPinnedVersionMismatchLogsFault(t *testing.T) {
	pkg := libPackage()
	pkg.Targets[0].Version = "1.0.0"
	loader := &fakeLoader{results: []*LoadedPackage{pkg}, errs: []error{nil}}

	var logs bytes.Buffer
	r := New("/ws", loader, indexcore.BuildSetupConfig{PinnedVersions: map[string]string{"Lib": "2.0.0"}}, false, log.New(&logs, "", 0))
	require.NoError(t, r.Reload(context.Background()))
	// No panic/error: mismatches are faults, logged and swallowed, not
	// surfaced as a Reload error.
	require.Contains(t, logs.String(), `fault: dependency "Lib" resolved to 1.0.0, older than pinned 2.0.0`)
}

func TestClassifyManifestChangeTriggersReload(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	c := r.Classify(indexcore.FileEvent{URI: "file:///ws/Package.swift", Type: indexcore.FileEventChanged})
	require.True(t, c.TriggersReload)
}

func TestClassifyChangedSourceFansOutToTargetSiblings(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	c := r.Classify(indexcore.FileEvent{URI: "file:///ws/Sources/Lib/a.swift", Type: indexcore.FileEventChanged})
	require.False(t, c.TriggersReload)
	require.ElementsMatch(t, []string{"/ws/Sources/Lib/a.swift", "/ws/Sources/Lib/b.swift"}, c.DependencyFanOut)
}

func TestClassifyCreatedHeaderTriggersReload(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	c := r.Classify(indexcore.FileEvent{URI: "file:///ws/Sources/Lib/include/new.h", Type: indexcore.FileEventCreated})
	require.True(t, c.TriggersReload)
}

func TestClassifyChangedModuleArtifactFansOutToAllKnownFiles(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := newTestResolver(t, loader)
	require.NoError(t, r.Reload(context.Background()))

	c := r.Classify(indexcore.FileEvent{URI: "file:///ws/.build/Lib.swiftmodule", Type: indexcore.FileEventChanged})
	require.False(t, c.TriggersReload)
	require.ElementsMatch(t, []string{"/ws/Sources/Lib/a.swift", "/ws/Sources/Lib/b.swift"}, c.DependencyFanOut)
}

func TestClassifyChangedModuleArtifactIsIgnoredInIndexOnlyMode(t *testing.T) {
	loader := &fakeLoader{results: []*LoadedPackage{libPackage()}, errs: []error{nil}}
	r := New("/ws", loader, indexcore.BuildSetupConfig{}, true, nil)
	require.NoError(t, r.Reload(context.Background()))

	c := r.Classify(indexcore.FileEvent{URI: "file:///ws/.build/Lib.swiftmodule", Type: indexcore.FileEventChanged})
	require.False(t, c.TriggersReload)
	require.Empty(t, c.DependencyFanOut)
}

var errBoom = &loadError{"boom"}

type loadError struct{ msg string }

func (e *loadError) Error() string { return e.msg }
