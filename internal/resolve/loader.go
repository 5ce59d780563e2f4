package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	indexcore "github.com/semindex/indexcore"
	"golang.org/x/xerrors"
)

// LoadedTarget is one build target as reported by a PackageLoader.
type LoadedTarget struct {
	Name             string   `json:"name"`
	RunDestinationID string   `json:"run_destination_id"`
	SourceRoot       string   `json:"source_root"`
	Sources          []string `json:"sources"`
	Dependencies     []string `json:"dependencies"`

	// Version is the resolved dependency version, when the loader tracks
	// one. Used only for the supplemental pinned-version fault check.
	Version string `json:"version"`

	// CompileArgsTemplate is the per-target compiler invocation, with the
	// literal token "%FILE%" standing in for whichever source file
	// build settings are being computed for.
	CompileArgsTemplate []string `json:"compile_args_template"`
	WorkingDirectory    string   `json:"working_directory"`
}

// LoadedPackage is the build description reported by a PackageLoader for a
// single package load.
type LoadedPackage struct {
	ManifestPath     string   `json:"manifest_path"`
	InterpreterFlags []string `json:"interpreter_flags"`
	Targets          []LoadedTarget `json:"targets"`
}

// PackageLoader loads a package manifest and resolves its dependency graph.
// It is the opaque, external "package loader" collaborator (spec §1): the
// core never parses manifests itself.
type PackageLoader interface {
	Load(ctx context.Context, root string, setup indexcore.BuildSetupConfig, indexOnly bool) (*LoadedPackage, error)
}

// SubprocessLoader is the default PackageLoader: it runs a configurable
// external command in the workspace root and decodes its stdout as JSON,
// mirroring the teacher's own subprocess-plus-captured-output idiom
// (internal/build.Ctx.Build, internal/batch.scheduler.build) substituting
// encoding/json decoding for the fixed textproto schema distri's own build
// files use, since the wire format here is whatever the host's package
// loader emits rather than a schema this module owns.
type SubprocessLoader struct {
	// Command is the argv used to invoke the external loader, e.g.
	// {"swift", "package", "describe", "--type", "json"}. Run with the
	// workspace root as the current directory.
	Command []string
}

func (l *SubprocessLoader) Load(ctx context.Context, root string, setup indexcore.BuildSetupConfig, indexOnly bool) (*LoadedPackage, error) {
	if len(l.Command) == 0 {
		return nil, xerrors.New("subprocess loader: no command configured")
	}
	args := append([]string(nil), l.Command[1:]...)
	if indexOnly {
		args = append(args, "--index-only-scratch")
	}
	if setup.ScratchPath != "" {
		args = append(args, "--scratch-path", setup.ScratchPath)
	}
	cmd := exec.CommandContext(ctx, l.Command[0], args...)
	cmd.Dir = root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("package loader %v: %w (stderr: %s)", l.Command, err, stderr.String())
	}

	var loaded LoadedPackage
	if err := json.Unmarshal(stdout.Bytes(), &loaded); err != nil {
		return nil, xerrors.Errorf("package loader %v: decoding output: %w", l.Command, err)
	}
	return &loaded, nil
}
