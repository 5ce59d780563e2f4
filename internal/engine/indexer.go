package engine

import (
	"bytes"
	"context"
	"log"
	"os/exec"

	"github.com/semindex/indexcore/internal/resolve"
	"golang.org/x/xerrors"
)

// subprocessIndexer is the default index.Indexer: it invokes the host
// toolchain's index-store updater with the resolved compiler invocation for
// a single file, mirroring prepare.Runner's subprocess-plus-captured-output
// shape but operating per file rather than per target.
type subprocessIndexer struct {
	toolchain string
	log       *log.Logger
}

func newSubprocessIndexer(toolchain string, logger *log.Logger) *subprocessIndexer {
	return &subprocessIndexer{toolchain: toolchain, log: logger}
}

// UpdateIndexStore runs `<toolchain>/swift-index <file> -- <settings.Arguments...>`,
// the convention the toolchain's index-store updater expects: everything
// after "--" is the synthesized compiler invocation the resolver produced.
func (x *subprocessIndexer) UpdateIndexStore(ctx context.Context, file string, settings resolve.FileBuildSettings) error {
	args := append([]string{file, "--"}, settings.Arguments...)
	cmd := exec.CommandContext(ctx, x.toolchain+"/swift-index", args...)
	cmd.Dir = settings.WorkingDirectory

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wrapped := xerrors.Errorf("update index store for %q: %w (stderr: %s)", file, err, stderr.String())
		if x.log != nil {
			x.log.Printf("%v", wrapped)
		}
		return wrapped
	}
	return nil
}
