package semindex

import "fmt"

// ConfiguredTarget is the addressable identity of a build target: a target
// name paired with a run destination (the platform/configuration a target is
// built for). The zero value is the reserved sentinel addressing the package
// manifest itself; it never collides with a user target, since user targets
// always have a non-empty TargetID.
type ConfiguredTarget struct {
	TargetID         string
	RunDestinationID string
}

// IsManifest reports whether ct is the sentinel addressing the package
// manifest rather than a user-defined target.
func (ct ConfiguredTarget) IsManifest() bool {
	return ct.TargetID == "" && ct.RunDestinationID == ""
}

func (ct ConfiguredTarget) String() string {
	if ct.IsManifest() {
		return "<manifest>"
	}
	return fmt.Sprintf("%s (%s)", ct.TargetID, ct.RunDestinationID)
}

// FileEventType classifies a single file-system change.
type FileEventType int

const (
	FileEventUnknown FileEventType = iota
	FileEventCreated
	FileEventChanged
	FileEventDeleted
)

func (t FileEventType) String() string {
	switch t {
	case FileEventCreated:
		return "created"
	case FileEventChanged:
		return "changed"
	case FileEventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileEvent is a single file-system notification as reported by the host (or
// by the bundled fsnotify-backed watcher, see internal/watch).
type FileEvent struct {
	URI  string
	Type FileEventType
}

// Configuration selects the build configuration used when constructing the
// build plan. Unset is equivalent to Debug.
type Configuration int

const (
	ConfigurationUnset Configuration = iota
	ConfigurationDebug
	ConfigurationRelease
)

// WorkspaceType selects which underlying build description the package
// loader should prefer. Unset lets the loader decide.
type WorkspaceType int

const (
	WorkspaceTypeUnset WorkspaceType = iota
	WorkspaceTypeBuildServer
	WorkspaceTypeCompDB
	WorkspaceTypeSwiftPM
)

// Flags are extra per-language compiler/linker flags. They reach the package
// loader as part of BuildSetupConfig; the resolver does not add them to the
// compiler invocations it synthesizes.
type Flags struct {
	C      []string
	Cxx    []string
	Swift  []string
	Linker []string
}

func mergeFlags(base, other Flags) Flags {
	return Flags{
		C:      append(append([]string(nil), base.C...), other.C...),
		Cxx:    append(append([]string(nil), base.Cxx...), other.Cxx...),
		Swift:  append(append([]string(nil), base.Swift...), other.Swift...),
		Linker: append(append([]string(nil), base.Linker...), other.Linker...),
	}
}

// BuildSetupConfig is the host-supplied build configuration. Merge combines
// two configs with other's scalars taking precedence and flag vectors
// appended, per the external-interface contract.
type BuildSetupConfig struct {
	Configuration        Configuration
	DefaultWorkspaceType WorkspaceType
	ScratchPath          string
	Flags                Flags

	// PinnedVersions maps a dependency name to a pinned version string.
	// Supplemental to the distilled spec (present in the reference
	// implementation): passed to the package loader as part of the setup;
	// after each load the resolver logs a fault for any dependency resolved
	// to a version older than its pin. The bundled SubprocessLoader does not
	// forward pins to its command.
	PinnedVersions map[string]string
}

// Merge returns the config obtained by layering other on top of c: scalar
// fields in other win when set (non-zero/non-empty), flag vectors are
// appended, and pinned versions are unioned with other taking precedence on
// conflicting keys.
func (c BuildSetupConfig) Merge(other BuildSetupConfig) BuildSetupConfig {
	out := c
	if other.Configuration != ConfigurationUnset {
		out.Configuration = other.Configuration
	}
	if other.DefaultWorkspaceType != WorkspaceTypeUnset {
		out.DefaultWorkspaceType = other.DefaultWorkspaceType
	}
	if other.ScratchPath != "" {
		out.ScratchPath = other.ScratchPath
	}
	out.Flags = mergeFlags(c.Flags, other.Flags)
	if len(other.PinnedVersions) > 0 {
		merged := make(map[string]string, len(c.PinnedVersions)+len(other.PinnedVersions))
		for k, v := range c.PinnedVersions {
			merged[k] = v
		}
		for k, v := range other.PinnedVersions {
			merged[k] = v
		}
		out.PinnedVersions = merged
	}
	return out
}

// WorkspaceOptions bundles everything needed to stand up a workspace: the
// resolved package root, an opaque toolchain descriptor (toolchain discovery
// itself is an external collaborator, out of scope here), the merged build
// setup, and whether this workspace serves an index-only build.
type WorkspaceOptions struct {
	Root            string
	ToolchainPath   string
	BuildSetup      BuildSetupConfig
	IsForIndexBuild bool
}

// InProgressIndexTasks is a snapshot of the Index Manager's current work,
// listing file paths.
type InProgressIndexTasks struct {
	Scheduled []string
	Executing []string
}
