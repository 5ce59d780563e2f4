// Package watch provides the concrete file-system event source: an
// fsnotify-backed watcher that translates raw filesystem notifications into
// the core's FileEvent values. Grounded on
// kluzzebass-gastrolog/backend/internal/ingester/tail (fsnotify directory
// watching, doublestar glob-prefix derivation), generalized from "tail
// matching log files" to "watch a package's known source directories for
// compile-setting-relevant changes".
package watch

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	indexcore "github.com/semindex/indexcore"
)

// DefaultSourceExtensions lists the file extensions watch.New filters raw
// fsnotify events down to by default, matching the extensions
// resolve.defaultAffectsCompileSettings treats as compile-setting relevant.
var DefaultSourceExtensions = []string{".swift", ".c", ".cc", ".cpp", ".h", ".hpp", ".modulemap"}

// sourcePatterns builds the doublestar globs New uses to filter noise (swap
// files, editor backups, build output) out of the raw event stream, rooted
// under root so "**" spans every watched subdirectory.
func sourcePatterns(root string) []string {
	patterns := make([]string, 0, len(DefaultSourceExtensions)+1)
	for _, ext := range DefaultSourceExtensions {
		patterns = append(patterns, filepath.Join(root, "**", "*"+ext))
	}
	patterns = append(patterns, filepath.Join(root, indexcore.ManifestFilename))
	return patterns
}

// FSWatcher watches a package root plus its currently-known source
// directories and feeds translated FileEvent values to Handler.
type FSWatcher struct {
	Handler func(indexcore.FileEvent)
	Log     *log.Logger

	// Patterns restricts forwarded events to paths matching at least one
	// doublestar glob (see MatchesAnyGlob); set by New to sourcePatterns(root).
	Patterns []string

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]bool

	done chan struct{}
}

// New creates an FSWatcher rooted at root, already watching root itself.
func New(root string, handler func(indexcore.FileEvent), logger *log.Logger) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSWatcher{
		Handler:  handler,
		Log:      logger,
		Patterns: sourcePatterns(root),
		watcher:  w,
		watched:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	if err := fw.AddDir(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	go fw.run()
	return fw, nil
}

func (fw *FSWatcher) logf(format string, args ...interface{}) {
	if fw.Log != nil {
		fw.Log.Printf(format, args...)
	}
}

// AddDir watches dir if not already watched. Safe to call repeatedly as new
// source directories become known (e.g. after a resolver reload).
func (fw *FSWatcher) AddDir(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.watched[dir] {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return err
	}
	fw.watched[dir] = true
	return nil
}

// SyncSourceDirs watches the directory of every path in sources, skipping
// any already watched. Mirrors watchDirsForPatterns' "watch the static
// prefix" idea, specialized to exact known directories rather than
// glob-derived prefixes since the resolver already resolves concrete paths.
func (fw *FSWatcher) SyncSourceDirs(sources []string) {
	for _, src := range sources {
		dir := filepath.Dir(src)
		if err := fw.AddDir(dir); err != nil {
			fw.logf("watch: failed to add directory %q: %v", dir, err)
		}
	}
}

// MatchesAnyGlob reports whether path matches any of patterns, using
// doublestar so "**"-style recursive globs behave as package manifests
// typically specify them.
func MatchesAnyGlob(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.PathMatch(p, path); ok {
			return true
		}
	}
	return false
}

func (fw *FSWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logf("watch: fsnotify error: %v", err)
		case <-fw.done:
			return
		}
	}
}

func (fw *FSWatcher) handle(event fsnotify.Event) {
	if fw.Handler == nil {
		return
	}
	if len(fw.Patterns) > 0 && !MatchesAnyGlob(event.Name, fw.Patterns) {
		return
	}
	var t indexcore.FileEventType
	switch {
	case event.Has(fsnotify.Create):
		t = indexcore.FileEventCreated
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		t = indexcore.FileEventChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		t = indexcore.FileEventDeleted
	default:
		return
	}
	fw.Handler(indexcore.FileEvent{URI: "file://" + event.Name, Type: t})
}

// Close stops the watcher and releases its file descriptors.
func (fw *FSWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}
