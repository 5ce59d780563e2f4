// Package resolve implements the build-settings resolver: package loading,
// the three target maps (configured target, file→target, source-dir→target),
// per-file compiler argument synthesis with substitute-file patching, and
// file-event classification. Grounded on the teacher's own dependency
// resolution (internal/build/resolve.go) and memoized-lookup (internal/build/glob.go)
// patterns, generalized from "resolve a package's transitive runtime deps"
// to "resolve a file's owning build target and compiler invocation".
package resolve

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/graph"
	"golang.org/x/xerrors"
)

// ReloadStatus is reported to the host around a Reload call.
type ReloadStatus int

const (
	ReloadStart ReloadStatus = iota
	ReloadEnd
)

// FileBuildSettings is a synthesized compiler invocation for one file.
type FileBuildSettings struct {
	Arguments        []string
	WorkingDirectory string
}

// MissingTargetError is returned (and logged by the caller) when a file is
// not mapped to any known target.
type MissingTargetError struct {
	URI string
}

func (e *MissingTargetError) Error() string {
	return xerrors.Errorf("no target owns %q", e.URI).Error()
}

// Delegate receives resolver change notifications. Implementations must
// tolerate being called with empty sets and must not block meaningfully.
type Delegate interface {
	FileBuildSettingsChanged(uris []string)
	FileHandlingCapabilityChanged()
}

type target struct {
	configured indexcore.ConfiguredTarget
	loaded     LoadedTarget
	index      int
	hasIndex   bool
}

type snapshot struct {
	loaded            *LoadedPackage
	targets           map[indexcore.ConfiguredTarget]*target
	fileToTarget      map[string]indexcore.ConfiguredTarget
	sourceDirToTarget map[string]indexcore.ConfiguredTarget
	watchedFiles      []string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		targets:           make(map[indexcore.ConfiguredTarget]*target),
		fileToTarget:      make(map[string]indexcore.ConfiguredTarget),
		sourceDirToTarget: make(map[string]indexcore.ConfiguredTarget),
	}
}

// Resolver loads a package and serves build-settings queries against the
// most recently loaded snapshot. Reload is serialized (single-threaded
// cooperative actor, per spec §5); queries read a lock-free atomic
// snapshot, so readers never block on a concurrent reload.
type Resolver struct {
	Root      string
	Loader    PackageLoader
	Setup     indexcore.BuildSetupConfig
	IndexOnly bool
	Log       *log.Logger
	Delegate  Delegate

	// AffectsCompileSettings, if set, overrides the default created/deleted
	// file-event classification predicate (see classify.go) with one
	// precise to the package loader in use.
	AffectsCompileSettings func(path string) bool

	// OnReloadStatus, if set, is invoked around every Reload call.
	OnReloadStatus func(ReloadStatus)

	// reloadSerial guards Reload itself (actor discipline); it is not held
	// by query methods.
	reloadSerial chan struct{}

	snap atomic.Pointer[snapshot]

	symlinks symlinkCache
}

// New returns a Resolver with an empty snapshot; call Reload before serving
// queries.
func New(root string, loader PackageLoader, setup indexcore.BuildSetupConfig, indexOnly bool, logger *log.Logger) *Resolver {
	r := &Resolver{
		Root:         root,
		Loader:       loader,
		Setup:        setup,
		IndexOnly:    indexOnly,
		Log:          logger,
		reloadSerial: make(chan struct{}, 1),
	}
	r.snap.Store(emptySnapshot())
	return r
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// Reload loads the package fresh, builds the three target maps atomically,
// and notifies the delegate. If loading fails, the prior snapshot is left
// completely intact (§3 invariant: atomic target swap). Per the resolved
// Open Question in DESIGN.md, OnReloadStatus(ReloadEnd) fires unconditionally,
// even on failure, via defer.
func (r *Resolver) Reload(ctx context.Context) (err error) {
	r.reloadSerial <- struct{}{}
	defer func() { <-r.reloadSerial }()

	if r.OnReloadStatus != nil {
		r.OnReloadStatus(ReloadStart)
	}
	defer func() {
		if r.OnReloadStatus != nil {
			r.OnReloadStatus(ReloadEnd)
		}
	}()

	loaded, loadErr := r.Loader.Load(ctx, r.Root, r.Setup, r.IndexOnly)
	if loadErr != nil {
		return xerrors.Errorf("package load: %w", loadErr)
	}

	if err := checkPinnedVersions(r.Setup.PinnedVersions, loaded, r.logf); err != nil {
		// Pin mismatches are faults, not reload failures (spec §4.3
		// supplemental): log and continue with the resolved graph.
		r.logf("pinned version check: %v", err)
	}

	next := r.buildSnapshot(loaded)
	r.snap.Store(next)

	if r.Delegate != nil {
		r.Delegate.FileBuildSettingsChanged(next.watchedFiles)
		r.Delegate.FileHandlingCapabilityChanged()
	}
	return nil
}

func (r *Resolver) buildSnapshot(loaded *LoadedPackage) *snapshot {
	gb := graph.NewBuilder()
	for _, lt := range loaded.Targets {
		gb.AddTarget(lt.Name)
		for _, dep := range lt.Dependencies {
			gb.AddDependency(lt.Name, dep)
		}
	}
	index, broke, err := gb.TopologicalIndex()
	if err != nil {
		r.logf("fault: topological sort failed, targets will be unordered: %v", err)
		index = map[string]int{}
	} else if broke {
		r.logf("fault: dependency graph contains a cycle, broke arbitrary edges to order it")
	}

	next := emptySnapshot()
	next.loaded = loaded

	for _, lt := range loaded.Targets {
		ct := indexcore.ConfiguredTarget{TargetID: lt.Name, RunDestinationID: lt.RunDestinationID}
		idx, hasIdx := index[lt.Name]
		if existing, dup := next.targets[ct]; dup {
			r.logf("fault: duplicate configured target %v (keeping last: %q over %q)", ct, lt.Name, existing.loaded.Name)
		}
		next.targets[ct] = &target{configured: ct, loaded: lt, index: idx, hasIndex: hasIdx}

		if lt.SourceRoot != "" {
			next.sourceDirToTarget[lt.SourceRoot] = ct
		}
		for _, src := range lt.Sources {
			if existing, dup := next.fileToTarget[src]; dup && existing != ct {
				r.logf("fault: %q already mapped to target %v, overriding with %v", src, existing, ct)
			}
			next.fileToTarget[src] = ct
			next.watchedFiles = append(next.watchedFiles, src)
		}
	}
	sort.Strings(next.watchedFiles)
	return next
}

func (r *Resolver) currentSnapshot() *snapshot {
	return r.snap.Load()
}

// ConfiguredTargets resolves a file URI to the (at most one) target that
// owns it, per spec §4.3's query algorithm: direct hit, symlink-resolved
// hit, manifest basename, then upward directory walk through sourceDirToTarget.
func (r *Resolver) ConfiguredTargets(uri string) []indexcore.ConfiguredTarget {
	path, ok := uriToPath(uri)
	if !ok {
		return nil
	}
	snap := r.currentSnapshot()

	if ct, ok := snap.fileToTarget[path]; ok {
		return []indexcore.ConfiguredTarget{ct}
	}
	if resolved, ok := r.symlinks.resolve(path); ok && resolved != path {
		if ct, ok := snap.fileToTarget[resolved]; ok {
			return []indexcore.ConfiguredTarget{ct}
		}
	}
	if filepath.Base(path) == indexcore.ManifestFilename {
		return []indexcore.ConfiguredTarget{{}}
	}
	if ct, ok := r.walkUpSourceDirs(snap, filepath.Dir(path)); ok {
		return []indexcore.ConfiguredTarget{ct}
	}
	return nil
}

func (r *Resolver) walkUpSourceDirs(snap *snapshot, dir string) (indexcore.ConfiguredTarget, bool) {
	for {
		if ct, ok := snap.sourceDirToTarget[dir]; ok {
			return ct, true
		}
		if resolved, ok := r.symlinks.resolve(dir); ok && resolved != dir {
			if ct, ok := snap.sourceDirToTarget[resolved]; ok {
				return ct, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return indexcore.ConfiguredTarget{}, false
		}
		dir = parent
	}
}

// AllSourceFiles returns every file path the most recent reload associated
// with a target, sorted. Index Manager's "regenerate build graph then
// background-index all files" operation uses this to discover its file set.
func (r *Resolver) AllSourceFiles() []string {
	snap := r.currentSnapshot()
	out := make([]string, len(snap.watchedFiles))
	copy(out, snap.watchedFiles)
	return out
}

// SourcesForTarget returns the source files belonging to ct, or nil if ct is
// unknown or is the manifest sentinel.
func (r *Resolver) SourcesForTarget(ct indexcore.ConfiguredTarget) []string {
	snap := r.currentSnapshot()
	t, ok := snap.targets[ct]
	if !ok {
		return nil
	}
	out := make([]string, len(t.loaded.Sources))
	copy(out, t.loaded.Sources)
	return out
}

// FileHandlingCapability reports whether uri is handled: equivalent to
// ConfiguredTargets(uri) being non-empty (spec §4.5 invariant).
func (r *Resolver) FileHandlingCapability(uri string) bool {
	return len(r.ConfiguredTargets(uri)) > 0
}

// BuildSettings computes the compiler invocation for uri under ct, per
// spec §4.3: the manifest sentinel gets interpreter flags + manifest path;
// otherwise the target's own template, or a patched substitute-file
// template if uri isn't directly one of the target's sources.
func (r *Resolver) BuildSettings(uri string, ct indexcore.ConfiguredTarget, language string) (*FileBuildSettings, error) {
	path, ok := uriToPath(uri)
	if !ok {
		return nil, xerrors.Errorf("not a file uri: %s", uri)
	}
	snap := r.currentSnapshot()

	if ct.IsManifest() {
		manifestPath := snap.loaded.ManifestPath
		if manifestPath == "" {
			manifestPath = path
		}
		args := append(append([]string(nil), snap.loaded.InterpreterFlags...), manifestPath)
		return &FileBuildSettings{Arguments: args, WorkingDirectory: r.Root}, nil
	}

	t, ok := snap.targets[ct]
	if !ok {
		return nil, &MissingTargetError{URI: uri}
	}

	resolvedPath := path
	if resolved, ok := r.symlinks.resolve(path); ok {
		resolvedPath = resolved
	}

	if containsAny(t.loaded.Sources, path, resolvedPath) {
		args := expandTemplate(t.loaded.CompileArgsTemplate, path)
		return &FileBuildSettings{Arguments: args, WorkingDirectory: t.loaded.WorkingDirectory}, nil
	}

	substitute := leastSource(t.loaded.Sources)
	if substitute == "" {
		return nil, xerrors.Errorf("target %v has no source files to synthesize settings from", ct)
	}
	subArgs := expandTemplate(t.loaded.CompileArgsTemplate, substitute)
	// Asymmetric patch, intentional (DESIGN.md Open Question b): the
	// needle is the *unresolved* substitute path, the replacement is the
	// *resolved* requested path.
	patched := patchArgs(subArgs, substitute, resolvedPath)
	return &FileBuildSettings{Arguments: patched, WorkingDirectory: t.loaded.WorkingDirectory}, nil
}

// TopologicalSort stably orders targets by their resolved topological
// index; targets with no known index sort to the end.
func (r *Resolver) TopologicalSort(targets []indexcore.ConfiguredTarget) []indexcore.ConfiguredTarget {
	snap := r.currentSnapshot()
	index := snap.indexMap()
	keys := make([]string, len(targets))
	byKey := make(map[string]indexcore.ConfiguredTarget, len(targets))
	for i, t := range targets {
		k := targetKey(t)
		keys[i] = k
		byKey[k] = t
	}
	sorted := graph.Sort(keys, index)
	out := make([]indexcore.ConfiguredTarget, len(sorted))
	for i, k := range sorted {
		out[i] = byKey[k]
	}
	return out
}

// TargetsDependingOn returns every known target whose index is greater than
// the minimum index among targets — an over-approximation when targets
// don't form a contiguous dependency frontier. If any input lacks an index,
// it conservatively returns every known target.
func (r *Resolver) TargetsDependingOn(targets []indexcore.ConfiguredTarget) []indexcore.ConfiguredTarget {
	snap := r.currentSnapshot()
	index := snap.indexMap()

	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = targetKey(t)
	}
	var all []string
	byKey := make(map[string]indexcore.ConfiguredTarget, len(snap.targets))
	for ct := range snap.targets {
		k := targetKey(ct)
		all = append(all, k)
		byKey[k] = ct
	}
	sort.Strings(all) // deterministic fallback order when conservatively returning everything

	got := graph.DependingOn(keys, all, index)
	out := make([]indexcore.ConfiguredTarget, len(got))
	for i, k := range got {
		out[i] = byKey[k]
	}
	return out
}

func (s *snapshot) indexMap() map[string]int {
	m := make(map[string]int, len(s.targets))
	for ct, t := range s.targets {
		if t.hasIndex {
			m[targetKey(ct)] = t.index
		}
	}
	return m
}

func targetKey(ct indexcore.ConfiguredTarget) string {
	return ct.TargetID + "\x00" + ct.RunDestinationID
}

func expandTemplate(template []string, file string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, "%FILE%", file)
	}
	return out
}

func patchArgs(args []string, needle, replacement string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, needle, replacement)
	}
	return out
}

func containsAny(sources []string, candidates ...string) bool {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	for _, s := range sources {
		if set[s] {
			return true
		}
	}
	return false
}

// leastSource returns the lexicographically least path in sources, the
// "substitute file" spec §4.3 calls for.
func leastSource(sources []string) string {
	if len(sources) == 0 {
		return ""
	}
	least := sources[0]
	for _, s := range sources[1:] {
		if s < least {
			least = s
		}
	}
	return least
}

func uriToPath(uri string) (string, bool) {
	const prefix = "file://"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):], true
	}
	if strings.HasPrefix(uri, "/") {
		return uri, true // already a bare path
	}
	return "", false
}
