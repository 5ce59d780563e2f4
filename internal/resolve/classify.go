package resolve

import (
	"path/filepath"
	"strings"

	indexcore "github.com/semindex/indexcore"
)

// Classification is the Resolver's verdict on a single file-system event.
type Classification struct {
	// TriggersReload is true when the event must cause a full package
	// reload (manifest changed, or a file affecting compile settings was
	// created/deleted).
	TriggersReload bool

	// DependencyFanOut lists files whose dependency information should be
	// reported as updated (same-target fan-out), when TriggersReload is
	// false.
	DependencyFanOut []string
}

// affectsCompileSettingsExt is the default "does this path affect compile
// settings" predicate the spec attributes to the package loader; hosts may
// override it via Resolver.AffectsCompileSettings.
var affectsCompileSettingsExt = map[string]bool{
	".swift": true,
	".c":     true,
	".cc":    true,
	".cpp":   true,
	".h":     true,
	".hpp":   true,
	".modulemap": true,
}

// defaultAffectsCompileSettings reports whether path's creation or deletion
// should trigger a reload. Hosts needing loader-specific precision can set
// Resolver.AffectsCompileSettings; this default matches common
// source/header extensions plus the manifest itself.
func defaultAffectsCompileSettings(path string) bool {
	return affectsCompileSettingsExt[strings.ToLower(filepath.Ext(path))]
}

func (r *Resolver) classifyPredicate() func(string) bool {
	if r.AffectsCompileSettings != nil {
		return r.AffectsCompileSettings
	}
	return defaultAffectsCompileSettings
}

// Classify implements spec §4.3's file-event classification algorithm.
func (r *Resolver) Classify(event indexcore.FileEvent) Classification {
	path, ok := uriToPath(event.URI)
	if !ok {
		return Classification{}
	}

	switch event.Type {
	case indexcore.FileEventCreated, indexcore.FileEventDeleted:
		if r.classifyPredicate()(path) {
			return Classification{TriggersReload: true}
		}
		return Classification{}
	case indexcore.FileEventChanged:
		if filepath.Base(path) == indexcore.ManifestFilename {
			return Classification{TriggersReload: true}
		}
		return r.classifyChangedFile(path)
	default:
		return Classification{}
	}
}

func (r *Resolver) classifyChangedFile(path string) Classification {
	snap := r.currentSnapshot()

	// Compiled module artifacts are never a target's listed source, so this
	// check must run before the source-membership lookup below — otherwise
	// it can never fire.
	if strings.EqualFold(filepath.Ext(path), ".swiftmodule") {
		if r.IndexOnly {
			return Classification{}
		}
		// Over-approximation, documented per spec §9: any changed compiled
		// module artifact fans out to every known file when not running in
		// index-only mode.
		return Classification{DependencyFanOut: r.allKnownFiles(snap)}
	}

	ct, ok := snap.fileToTarget[path]
	if !ok {
		return Classification{}
	}
	t, ok := snap.targets[ct]
	if !ok {
		return Classification{}
	}

	if strings.EqualFold(filepath.Ext(path), ".swift") {
		return Classification{DependencyFanOut: append([]string(nil), t.loaded.Sources...)}
	}
	return Classification{}
}

func (r *Resolver) allKnownFiles(snap *snapshot) []string {
	out := make([]string, 0, len(snap.fileToTarget))
	for f := range snap.fileToTarget {
		out = append(out, f)
	}
	return out
}
