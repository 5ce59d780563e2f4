package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	indexcore "github.com/semindex/indexcore"
	"github.com/stretchr/testify/require"
)

func TestFSWatcherReportsFileCreation(t *testing.T) {
	root := t.TempDir()

	events := make(chan indexcore.FileEvent, 8)
	w, err := New(root, func(e indexcore.FileEvent) { events <- e }, nil)
	require.NoError(t, err)
	defer w.Close()

	target := filepath.Join(root, "new.swift")
	require.NoError(t, os.WriteFile(target, []byte("// x"), 0o644))

	select {
	case e := <-events:
		require.Contains(t, e.URI, "new.swift")
		require.Equal(t, indexcore.FileEventCreated, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestFSWatcherReportsFileChange(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "existing.swift")
	require.NoError(t, os.WriteFile(target, []byte("// x"), 0o644))

	events := make(chan indexcore.FileEvent, 8)
	w, err := New(root, func(e indexcore.FileEvent) { events <- e }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(target, []byte("// y"), 0o644))

	for {
		select {
		case e := <-events:
			if e.Type == indexcore.FileEventChanged {
				require.Contains(t, e.URI, "existing.swift")
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change event")
		}
	}
}

func TestFSWatcherIgnoresNonSourceFiles(t *testing.T) {
	root := t.TempDir()

	events := make(chan indexcore.FileEvent, 8)
	w, err := New(root, func(e indexcore.FileEvent) { events <- e }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.swift"), []byte("// x"), 0o644))

	select {
	case e := <-events:
		require.Contains(t, e.URI, "real.swift")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the real.swift create event")
	}
}

func TestMatchesAnyGlob(t *testing.T) {
	require.True(t, MatchesAnyGlob("/ws/Sources/Lib/a.swift", []string{"/ws/Sources/**/*.swift"}))
	require.False(t, MatchesAnyGlob("/ws/Other/a.txt", []string{"/ws/Sources/**/*.swift"}))
}
