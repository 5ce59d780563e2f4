// Package graph builds the target dependency DAG and assigns each target a
// topological index, mirroring the cycle-breaking strategy
// internal/batch/batch.go in the teacher repo uses for package build
// ordering, generalized from "packages" to build targets.
package graph

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// node is a gonum graph.Node wrapping a target key.
type node struct {
	id  int64
	key string
}

func (n *node) ID() int64 { return n.id }

// Builder incrementally constructs a directed dependency graph keyed by
// target id, then assigns each node a topological index.
type Builder struct {
	g      *simple.DirectedGraph
	nodes  map[string]*node
	nextID int64
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		g:     simple.NewDirectedGraph(),
		nodes: make(map[string]*node),
	}
}

func (b *Builder) nodeFor(key string) *node {
	if n, ok := b.nodes[key]; ok {
		return n
	}
	n := &node{id: b.nextID, key: key}
	b.nextID++
	b.nodes[key] = n
	b.g.AddNode(n)
	return n
}

// AddTarget registers a target with no dependencies yet known. Calling it is
// optional for targets that are added via AddDependency, but necessary for
// isolated targets that depend on nothing and are depended on by nothing.
func (b *Builder) AddTarget(key string) {
	b.nodeFor(key)
}

// AddDependency records that target depends on dependsOn. Self-dependencies
// are ignored.
func (b *Builder) AddDependency(target, dependsOn string) {
	if target == dependsOn {
		return
	}
	from := b.nodeFor(dependsOn) // dependency...
	to := b.nodeFor(target)      // ...must be visited before the dependent
	if from.ID() == to.ID() {
		return
	}
	b.g.SetEdge(b.g.NewEdge(from, to))
}

// TopologicalIndex returns index(key) for every registered target, such that
// for any dependency pair (target depends on dep), index(dep) < index(target).
// Cycles are broken by removing the outgoing edges of every node in a cyclic
// component, matching the teacher's bootstrap-cycle-breaking policy; this is
// a best-effort fallback; a fault should be logged by the caller when it
// triggers.
func (b *Builder) TopologicalIndex() (index map[string]int, brokeCycles bool, err error) {
	order, sortErr := topo.Sort(b.g)
	if sortErr != nil {
		uo, ok := sortErr.(topo.Unorderable)
		if !ok {
			return nil, false, sortErr
		}
		brokeCycles = true
		for _, component := range uo {
			for _, n := range component {
				from := b.g.From(n.ID())
				var toRemove []int64
				for from.Next() {
					toRemove = append(toRemove, from.Node().ID())
				}
				for _, id := range toRemove {
					b.g.RemoveEdge(n.ID(), id)
				}
			}
		}
		order, sortErr = topo.Sort(b.g)
		if sortErr != nil {
			return nil, true, xerrors.Errorf("could not break cycles: %w", sortErr)
		}
	}
	index = make(map[string]int, len(order))
	for i, n := range order {
		index[n.(*node).key] = i
	}
	return index, brokeCycles, nil
}

// Sort stably orders keys by their topological index; keys with no known
// index sort to the end, preserving their relative input order.
func Sort(keys []string, index map[string]int) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	// Stable insertion avoids reaching for sort.SliceStable purely for
	// readability here; the data sets involved (target counts) are small.
	known := make([]string, 0, len(out))
	unknown := make([]string, 0)
	for _, k := range out {
		if _, ok := index[k]; ok {
			known = append(known, k)
		} else {
			unknown = append(unknown, k)
		}
	}
	stableSortByIndex(known, index)
	return append(known, unknown...)
}

func stableSortByIndex(keys []string, index map[string]int) {
	// Simple stable insertion sort: target counts are small (tens to low
	// hundreds), and stability must be exact for deterministic test output.
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && index[keys[j-1]] > index[keys[j]] {
			keys[j-1], keys[j] = keys[j], keys[j-1]
			j--
		}
	}
}

// DependingOn returns every key in all whose index is greater than the
// minimum index among targets (i.e. transitively-or-directly depends on one
// of them, approximated by "comes later in the topological order"). If any
// key in targets lacks a known index, DependingOn conservatively returns all
// of all — a documented over-approximation.
func DependingOn(targets []string, all []string, index map[string]int) []string {
	minIndex := -1
	for _, t := range targets {
		idx, ok := index[t]
		if !ok {
			out := make([]string, len(all))
			copy(out, all)
			return out
		}
		if minIndex == -1 || idx < minIndex {
			minIndex = idx
		}
	}
	if minIndex == -1 {
		return nil
	}
	var out []string
	for _, k := range all {
		if idx, ok := index[k]; ok && idx > minIndex {
			out = append(out, k)
		}
	}
	return out
}
