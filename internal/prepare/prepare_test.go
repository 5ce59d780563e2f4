package prepare

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	indexcore "github.com/semindex/indexcore"
	"github.com/stretchr/testify/require"
)

// fakeToolchain writes an executable "swift" script at dir/swift that
// behaves as instructed by body, and returns dir for use as Runner.Toolchain.
func fakeToolchain(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "swift")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755))
	return dir
}

func TestPrepareSucceeds(t *testing.T) {
	toolchain := fakeToolchain(t, "exit 0\n")
	r := &Runner{Toolchain: toolchain, PackagePath: "/ws"}

	err := r.Prepare(context.Background(), indexcore.ConfiguredTarget{TargetID: "Lib", RunDestinationID: "macosx"})
	require.NoError(t, err)
}

func TestPrepareDoesNotReportNonZeroExitAsError(t *testing.T) {
	toolchain := fakeToolchain(t, "echo 'build failed' 1>&2\nexit 1\n")
	r := &Runner{Toolchain: toolchain, PackagePath: "/ws"}

	err := r.Prepare(context.Background(), indexcore.ConfiguredTarget{TargetID: "Lib"})
	require.NoError(t, err)
}

func TestPrepareHonorsCancellation(t *testing.T) {
	toolchain := fakeToolchain(t, "trap 'exit 130' INT\nsleep 30\n")
	r := &Runner{Toolchain: toolchain, PackagePath: "/ws", GracePeriod: 500 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Prepare(ctx, indexcore.ConfiguredTarget{TargetID: "Lib"})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}
