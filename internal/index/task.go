package index

import (
	"context"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/taskqueue"
	"golang.org/x/xerrors"
)

// batchTask is one batch of the scheduling algorithm: prepare every target
// in the batch (sequentially, per target), then update the index store for
// every file in the original request that belongs to one of those targets.
// Batch size is currently always 1 (spec §4.4 step 4).
type batchTask struct {
	m        *Manager
	targets  []indexcore.ConfiguredTarget
	files    map[indexcore.ConfiguredTarget][]string
	priority taskqueue.Priority
}

func (t *batchTask) Priority() taskqueue.Priority { return t.priority }

// IsIdempotentWith reports whether other's batch shares a target with this
// one: such a batch's work fully subsumes or duplicates this one's
// preparation step, making it safe to cancel this one and let other run.
func (t *batchTask) IsIdempotentWith(other taskqueue.Description) bool {
	o, ok := other.(*batchTask)
	if !ok {
		return false
	}
	for _, a := range t.targets {
		for _, b := range o.targets {
			if a == b {
				return true
			}
		}
	}
	return false
}

// onTransition bridges taskqueue's StateCallback to the per-file status
// state machine (spec §4.4's "Scheduled/Executing/CancelledToBeRescheduled"
// diagram). Finished is handled inline in Execute, file by file, since a
// batch task's Finished can follow a partial success (some files indexed,
// others faulted).
func (t *batchTask) onTransition(transition taskqueue.StateTransition) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	switch transition {
	case taskqueue.StateExecuting:
		for ct, files := range t.files {
			t.m.transitionFilesLocked(files, ct, StatusExecuting, StatusScheduled)
		}
	case taskqueue.StateCancelledToBeRescheduled:
		for ct, files := range t.files {
			t.m.transitionFilesLocked(files, ct, StatusScheduled, StatusExecuting)
		}
	}
}

func (t *batchTask) Execute(ctx context.Context) error {
	prepared := make(map[indexcore.ConfiguredTarget]bool, len(t.targets))
	for _, target := range t.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.m.Preparer.Prepare(ctx, target); err != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			// A prepare failure for one target must not abort the rest of
			// the batch: its files are simply left out of this index pass.
			t.m.logf("fault: prepare %v: %v, skipping index update for its files", target, err)
			continue
		}
		prepared[target] = true
	}

	var depsUnion []string
	for _, target := range t.targets {
		if !prepared[target] {
			continue
		}
		depsUnion = append(depsUnion, t.m.Resolver.SourcesForTarget(target)...)
	}
	t.m.depsDebounce.Schedule(depsUnion)

	for _, target := range t.targets {
		if !prepared[target] {
			continue
		}
		for _, file := range t.files[target] {
			if err := ctx.Err(); err != nil {
				return err
			}
			settings, err := t.m.Resolver.BuildSettings("file://"+file, target, "")
			if err != nil {
				t.m.logf("fault: build settings for %q: %v, skipping index update", file, err)
				continue
			}
			if err := t.m.Indexer.UpdateIndexStore(ctx, file, *settings); err != nil {
				t.m.logf("fault: update index store for %q: %v", file, err)
				continue
			}
			t.m.mu.Lock()
			t.m.markUpToDateLocked(file, target)
			t.m.mu.Unlock()
		}
	}
	return nil
}

// buildGraphTask reloads the resolver, then schedules a background index
// pass over every file it reports. It always runs at low priority and is
// never idempotent with anything else — there is at most one at a time by
// construction (Manager.generateBuildGraphTask).
type buildGraphTask struct {
	m *Manager
}

func (t *buildGraphTask) Priority() taskqueue.Priority { return taskqueue.PriorityLow }

func (t *buildGraphTask) IsIdempotentWith(other taskqueue.Description) bool {
	_, ok := other.(*buildGraphTask)
	return ok
}

func (t *buildGraphTask) Execute(ctx context.Context) error {
	if err := t.m.Resolver.Reload(ctx); err != nil {
		return xerrors.Errorf("regenerate build graph: %w", err)
	}
	files := t.m.Resolver.AllSourceFiles()
	t.m.ScheduleBackgroundIndex(files)
	return nil
}
