package semindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindPackageRootFindsManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFilename), []byte("// swift-tools-version:5.5\nimport PackageDescription\n"), 0o644))

	sub := filepath.Join(root, "Sources", "Lib")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	found, ok, err := FindPackageRoot(sub)
	require.NoError(t, err)
	require.True(t, ok)

	wantResolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	require.Equal(t, wantResolved, found)
}

func TestFindPackageRootIgnoresUnrelatedFile(t *testing.T) {
	root := t.TempDir()
	// A file with the right name but no PackageDescription sentinel must be
	// skipped, and the walk must continue upward.
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFilename), []byte("not a real manifest"), 0o644))

	found, ok, err := FindPackageRoot(root)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, found)
}

func TestFindPackageRootNotFound(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	_, ok, err := FindPackageRoot(sub)
	require.NoError(t, err)
	require.False(t, ok)
}
