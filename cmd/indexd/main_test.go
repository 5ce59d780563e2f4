package main

import (
	"testing"

	"github.com/semindex/indexcore/internal/resolve"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("toolchain", "", "")
	cmd.Flags().StringSlice("loader-command", nil, "")
	return cmd
}

func TestLoaderFromFlagDefaultsToSwiftPackageDescribe(t *testing.T) {
	cmd := newTestCmd(t)
	loader := loaderFromFlag(cmd, "/opt/swift/bin")

	subprocess, ok := loader.(*resolve.SubprocessLoader)
	require.True(t, ok)
	require.Equal(t, []string{"/opt/swift/bin/swift", "package", "describe", "--type", "json"}, subprocess.Command)
}

func TestLoaderFromFlagHonorsExplicitCommand(t *testing.T) {
	cmd := newTestCmd(t)
	require.NoError(t, cmd.Flags().Set("loader-command", "custom,loader,--flag"))

	loader := loaderFromFlag(cmd, "/opt/swift/bin")
	subprocess, ok := loader.(*resolve.SubprocessLoader)
	require.True(t, ok)
	require.Equal(t, []string{"custom", "loader", "--flag"}, subprocess.Command)
}
