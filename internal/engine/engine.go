// Package engine wires the Resolver, the Semantic Index Manager, the
// Debouncer, the Delegate Bus, the fsnotify watcher, and the subprocess
// preparer/indexer into the single top-level workspace actor that exposes
// spec §6's external interface surface. It lives under internal/ rather
// than the module root because it depends on internal/resolve and friends,
// which themselves depend on the root package's shared types — putting the
// wiring in the root package would create an import cycle.
package engine

import (
	"context"
	"log"
	"path/filepath"
	"time"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/debounce"
	"github.com/semindex/indexcore/internal/delegate"
	"github.com/semindex/indexcore/internal/index"
	"github.com/semindex/indexcore/internal/prepare"
	"github.com/semindex/indexcore/internal/resolve"
	"github.com/semindex/indexcore/internal/taskqueue"
	"github.com/semindex/indexcore/internal/watch"
)

// ToolchainLookup resolves the host toolchain path for a workspace. Kept as
// a caller-supplied function: toolchain discovery is an external
// collaborator, out of scope for this module (see SPEC_FULL.md §3).
type ToolchainLookup func(root string) (path string, err error)

// ReloadStatusCallback mirrors resolve.ReloadStatus without requiring
// callers outside this package to import it directly.
type ReloadStatusCallback func(resolve.ReloadStatus)

// SourceFile describes one file the Engine's resolver currently knows
// about, per spec §6's source_files() shape.
type SourceFile struct {
	URI                 string
	IsPartOfRootProject bool
	MayContainTests     bool
}

// Engine is the top-level workspace actor.
type Engine struct {
	Root      string
	Resolver  *resolve.Resolver
	Index     *index.Manager
	Scheduler *taskqueue.Scheduler
	Bus       *delegate.Bus
	Watcher   *watch.FSWatcher

	log *log.Logger

	changeDebounce *debounce.Debouncer[[]indexcore.FileEvent]
	sourceCBs      []func([]SourceFile)
}

// delegateAdapter bridges resolve.Delegate and index.Delegate onto the
// shared delegate.Bus, so both components publish through one fan-out
// point (spec §4.5: a single delegate bus serves both the resolver's
// build-settings/capability notifications and the index manager's
// dependency-update notifications).
type delegateAdapter struct {
	bus *delegate.Bus
	eng *Engine
}

func (a *delegateAdapter) FileBuildSettingsChanged(uris []string) {
	a.bus.PublishFileBuildSettingsChanged(uris)
}

func (a *delegateAdapter) FileHandlingCapabilityChanged() {
	a.bus.PublishFileHandlingCapabilityChanged()
	if a.eng.Watcher != nil {
		a.eng.Watcher.SyncSourceDirs(a.eng.Resolver.AllSourceFiles())
	}
	a.eng.notifySourceFilesChanged()
}

func (a *delegateAdapter) FileDependenciesUpdated(uris []string) {
	a.bus.PublishFileDependenciesUpdated(uris)
}

// New loads the package manifest rooted at workspacePath (or above it, per
// indexcore.FindPackageRoot), wires every internal component, and performs
// the first reload. It fails with *indexcore.NoManifestError if no manifest
// is found, or *indexcore.CannotDetermineHostToolchainError if
// toolchainLookup fails.
func New(ctx context.Context, workspacePath string, toolchainLookup ToolchainLookup, loader resolve.PackageLoader, setup indexcore.BuildSetupConfig, isForIndexBuild bool, reloadStatusCB ReloadStatusCallback, logger *log.Logger) (*Engine, error) {
	root, found, err := indexcore.FindPackageRoot(workspacePath)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &indexcore.NoManifestError{Path: workspacePath}
	}

	toolchainPath, err := toolchainLookup(root)
	if err != nil {
		return nil, &indexcore.CannotDetermineHostToolchainError{Reason: err.Error()}
	}

	sched := taskqueue.New(0)
	bus := delegate.New()

	resolver := resolve.New(root, loader, setup, isForIndexBuild, logger)
	if reloadStatusCB != nil {
		resolver.OnReloadStatus = func(s resolve.ReloadStatus) { reloadStatusCB(s) }
	}

	eng := &Engine{
		Root:      root,
		Resolver:  resolver,
		Scheduler: sched,
		Bus:       bus,
		log:       logger,
	}
	adapter := &delegateAdapter{bus: bus, eng: eng}
	resolver.Delegate = adapter

	preparer := &prepare.Runner{
		Toolchain:   toolchainPath,
		PackagePath: root,
		ScratchPath: setup.ScratchPath,
		IndexOnly:   isForIndexBuild,
		Log:         logger,
	}
	indexer := newSubprocessIndexer(toolchainPath, logger)
	eng.Index = index.New(resolver, sched, preparer, indexer, adapter, logger)

	eng.changeDebounce = &debounce.Debouncer[[]indexcore.FileEvent]{
		Window:  250 * time.Millisecond,
		Combine: combineFileEvents,
		Emit:    eng.handleDebouncedEvents,
	}

	if err := resolver.Reload(ctx); err != nil {
		return nil, err
	}

	w, err := watch.New(root, eng.onRawFileEvent, logger)
	if err != nil {
		return nil, err
	}
	eng.Watcher = w
	w.SyncSourceDirs(resolver.AllSourceFiles())

	return eng, nil
}

func combineFileEvents(older, newer []indexcore.FileEvent) []indexcore.FileEvent {
	return append(append([]indexcore.FileEvent(nil), older...), newer...)
}

func (e *Engine) onRawFileEvent(fe indexcore.FileEvent) {
	e.changeDebounce.Schedule([]indexcore.FileEvent{fe})
}

// FilesDidChange is the host-facing input for externally-observed file
// events (spec §6 files_did_change), bypassing the watcher's own debounce
// window (the host is assumed to have already batched its own events).
func (e *Engine) FilesDidChange(events []indexcore.FileEvent) {
	e.handleDebouncedEvents(events)
}

func (e *Engine) handleDebouncedEvents(events []indexcore.FileEvent) {
	needsReload := false
	fanOut := make(map[string]bool)
	for _, ev := range events {
		c := e.Resolver.Classify(ev)
		if c.TriggersReload {
			needsReload = true
			continue
		}
		for _, f := range c.DependencyFanOut {
			fanOut[f] = true
		}
	}

	if needsReload {
		if err := e.Resolver.Reload(context.Background()); err != nil {
			e.logf("reload after file change failed: %v", err)
		}
		return
	}
	if len(fanOut) == 0 {
		return
	}
	files := make([]string, 0, len(fanOut))
	for f := range fanOut {
		files = append(files, f)
	}
	e.Index.ScheduleBackgroundIndex(files)
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}

// RegisterForChangeNotifications subscribes a sink to per-URI
// notifications (spec §6). UnregisterForChangeNotifications reverses it.
func (e *Engine) RegisterForChangeNotifications(uri string, sink delegate.Sink) delegate.Handle {
	return e.Bus.Register(uri, sink)
}

func (e *Engine) UnregisterForChangeNotifications(h delegate.Handle) {
	e.Bus.Unregister(h)
}

// GenerateBuildGraph forces a resolver reload, matching spec §6's
// generate_build_graph().
func (e *Engine) GenerateBuildGraph(ctx context.Context) error {
	return e.Resolver.Reload(ctx)
}

// SourceFiles returns every file the resolver currently knows about. Test
// membership and root-project membership are approximated by path
// conventions (a "Tests/" path component, a path under Root), since the
// core does not parse manifests itself.
func (e *Engine) SourceFiles() []SourceFile {
	all := e.Resolver.AllSourceFiles()
	out := make([]SourceFile, len(all))
	for i, f := range all {
		out[i] = SourceFile{
			URI:                 "file://" + f,
			IsPartOfRootProject: isUnderRoot(e.Root, f),
			MayContainTests:     containsPathComponent(f, "Tests"),
		}
	}
	return out
}

func isUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && len(rel) > 0 && rel[0] != '.'
}

func containsPathComponent(path, component string) bool {
	dir := filepath.Dir(path)
	for dir != "." && dir != string(filepath.Separator) {
		if filepath.Base(dir) == component {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

// AddSourceFilesDidChangeCallback registers cb to be invoked whenever the
// resolver's known source-file set changes (spec §6).
func (e *Engine) AddSourceFilesDidChangeCallback(cb func([]SourceFile)) {
	e.sourceCBs = append(e.sourceCBs, cb)
}

func (e *Engine) notifySourceFilesChanged() {
	if len(e.sourceCBs) == 0 {
		return
	}
	files := e.SourceFiles()
	for _, cb := range e.sourceCBs {
		cb(files)
	}
}

// InProgressIndexTasks reports the Index Manager's current work (spec §6).
func (e *Engine) InProgressIndexTasks() indexcore.InProgressIndexTasks {
	return e.Index.InProgressIndexTasks()
}

// Close releases the watcher and stops admitting new scheduler work.
func (e *Engine) Close() error {
	e.Scheduler.Close()
	if e.Watcher != nil {
		return e.Watcher.Close()
	}
	return nil
}
