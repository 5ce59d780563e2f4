package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopologicalIndexOrdersDependenciesFirst(t *testing.T) {
	b := NewBuilder()
	// App depends on Lib, Lib depends on Core.
	b.AddDependency("App", "Lib")
	b.AddDependency("Lib", "Core")

	index, broke, err := b.TopologicalIndex()
	require.NoError(t, err)
	require.False(t, broke)

	require.Less(t, index["Core"], index["Lib"])
	require.Less(t, index["Lib"], index["App"])
}

func TestTopologicalIndexBreaksCycles(t *testing.T) {
	b := NewBuilder()
	b.AddDependency("A", "B")
	b.AddDependency("B", "A")

	index, broke, err := b.TopologicalIndex()
	require.NoError(t, err)
	require.True(t, broke)
	require.Contains(t, index, "A")
	require.Contains(t, index, "B")
}

func TestSortUnknownTargetsSortToEnd(t *testing.T) {
	index := map[string]int{"A": 0, "B": 1}
	got := Sort([]string{"B", "Z", "A"}, index)
	require.Equal(t, []string{"A", "B", "Z"}, got)
}

func TestDependingOnOverApproximatesOnMissingIndex(t *testing.T) {
	index := map[string]int{"A": 0, "B": 1}
	all := []string{"A", "B", "C"}
	got := DependingOn([]string{"A", "Missing"}, all, index)
	require.ElementsMatch(t, all, got)
}

func TestDependingOnReturnsLaterTargets(t *testing.T) {
	index := map[string]int{"A": 0, "B": 1, "C": 2}
	all := []string{"A", "B", "C"}
	got := DependingOn([]string{"B"}, all, index)
	require.Equal(t, []string{"C"}, got)
}
