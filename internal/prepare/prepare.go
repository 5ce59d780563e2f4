// Package prepare implements the Preparation Runner: the subprocess
// launcher that performs a single target's build step ahead of index-store
// updates. Grounded on the teacher's own subprocess-invocation idiom
// (internal/build.Ctx.Build's exec.CommandContext usage, captured
// stdout/stderr), adapted with explicit interrupt-then-wait-then-kill
// cancellation in place of relying solely on ctx cancellation killing the
// process outright, per spec §5's "translate cancellation into an interrupt
// signal and await exit" requirement.
package prepare

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	indexcore "github.com/semindex/indexcore"
	"golang.org/x/xerrors"
)

// Runner launches the external build tool for a single target.
type Runner struct {
	// Toolchain is the root directory containing the build executable,
	// e.g. "<toolchain>/swift".
	Toolchain string
	// PackagePath is the workspace root passed as --package-path.
	PackagePath string
	// ScratchPath is passed as --scratch-path.
	ScratchPath string
	// IndexOnly marks an index-only build setup (spec §1); it does not
	// affect the preparation argv, which always disables the index store
	// (preparation never writes it — the separate update-index-store step
	// does).
	IndexOnly bool

	// GracePeriod bounds how long Prepare waits after sending an interrupt
	// before escalating to an unconditional kill. Default 2s.
	GracePeriod time.Duration

	Log *log.Logger
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

func (r *Runner) grace() time.Duration {
	if r.GracePeriod > 0 {
		return r.GracePeriod
	}
	return 2 * time.Second
}

// Prepare builds target: `<toolchain>/swift build --package-path <ws>
// --scratch-path <scratch> --disable-index-store --target <t>`. On ctx
// cancellation, it sends SIGINT and waits up to GracePeriod for a clean
// exit before sending SIGKILL; exit-by-signal during cancellation is not
// reported as an error, per spec §5.
func (r *Runner) Prepare(ctx context.Context, target indexcore.ConfiguredTarget) error {
	args := []string{"build", "--package-path", r.PackagePath}
	if r.ScratchPath != "" {
		args = append(args, "--scratch-path", r.ScratchPath)
	}
	args = append(args, "--disable-index-store", "--target", target.TargetID)

	cmd := exec.Command(r.Toolchain+"/swift", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Once the build process has exited, stop waiting for output pipes that
	// its own children may still hold open.
	cmd.WaitDelay = r.grace()

	if err := cmd.Start(); err != nil {
		return xerrors.Errorf("prepare %v: starting build: %w", target, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return r.translateExit(target, err, stdout.String(), stderr.String())
	case <-ctx.Done():
		return r.cancel(ctx, cmd, waitErr, target)
	}
}

func (r *Runner) cancel(ctx context.Context, cmd *exec.Cmd, waitErr chan error, target indexcore.ConfiguredTarget) error {
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		// The process may have already exited; fall through to wait.
		r.logf("prepare %v: interrupt signal failed: %v", target, err)
	}

	select {
	case <-waitErr:
		return ctx.Err()
	case <-time.After(r.grace()):
		r.logf("prepare %v: did not exit within grace period, killing", target)
		_ = cmd.Process.Kill()
		<-waitErr
		return ctx.Err()
	}
}

// translateExit maps the build process's outcome onto Prepare's contract.
// A non-zero exit is the ordinary case indexing exists to serve (the user's
// code has a compilation error); spec §4.4, §6, and §7 all require this to
// never surface as an error, so it is debug-logged and returned as success.
// Only a signal-terminated exit outside of our own cancellation — genuinely
// abnormal termination — is reported as an error.
func (r *Runner) translateExit(target indexcore.ConfiguredTarget, err error, stdout, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if xerrors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			r.logf("prepare %v: terminated by signal %v (stderr: %s)", target, status.Signal(), stderr)
			return xerrors.Errorf("prepare %v: terminated by signal %v", target, status.Signal())
		}
		r.logf("prepare %v: exited with %v (stderr: %s)", target, exitErr.ProcessState, stderr)
		return nil
	}
	return xerrors.Errorf("prepare %v: %w (stderr: %s)", target, err, stderr)
}
