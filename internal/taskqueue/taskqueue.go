// Package taskqueue implements the process-wide, priority-aware task
// scheduler: a bounded worker pool shared across workspaces that admits at
// most N tasks concurrently, supports cooperative cancellation, and can
// reschedule already-executing work when higher-priority work that subsumes
// it arrives. It generalizes the worker-pool-over-a-channel pattern used by
// the teacher's package build scheduler (internal/batch/batch.go) from a
// fixed DAG of package builds to an open-ended, continuously arriving stream
// of prioritized work.
package taskqueue

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// Priority orders ready work; higher values run first. Equal priorities are
// served FIFO.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

// StateTransition is reported to a task's StateCallback as it moves through
// the scheduler.
type StateTransition int

const (
	StateExecuting StateTransition = iota
	StateCancelledToBeRescheduled
	StateFinished
)

// Description is the capability set a schedulable task description must
// implement.
type Description interface {
	// Execute runs the task. It must observe ctx.Done() at natural
	// suspension points and return promptly with ctx.Err() (or a wrapped
	// form of it) when cancelled.
	Execute(ctx context.Context) error

	// IsIdempotentWith reports whether this task's work is covered by
	// other's work, i.e. whether this task may be safely interrupted and
	// rescheduled in favor of running other instead.
	IsIdempotentWith(other Description) bool

	// Priority is this task's base priority.
	Priority() Priority
}

// StateCallback, if non-nil, is invoked with every state transition a task
// undergoes after being scheduled. It must not block.
type StateCallback func(StateTransition)

// Handle is an awaitable reference to a scheduled task. The scheduler owns
// the task's execution; callers only ever observe it through a Handle.
type Handle struct {
	id uuid.UUID

	mu   sync.Mutex
	done chan struct{}
	err  error

	cancelFn func() // set while queued or running; nil once finished
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// Wait blocks until the task finishes (successfully, with an error, or by
// final cancellation — a reschedule is not a finish) or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of the task, wherever it currently sits in
// its lifecycle (queued or executing). Cancellation is cooperative: Execute
// must still observe its context to actually stop.
func (h *Handle) Cancel() {
	h.mu.Lock()
	fn := h.cancelFn
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.cancelFn = nil
	h.mu.Unlock()
	close(h.done)
}

type entry struct {
	desc     Description
	priority Priority
	seq      uint64
	handle   *Handle
	stateCB  StateCallback

	pendingReschedule bool
	cancel            context.CancelFunc // set only while executing
}

// Scheduler is the shared, process-wide task scheduler.
type Scheduler struct {
	limit int

	mu       sync.Mutex
	cond     *sync.Cond
	seq      uint64
	ready    []*entry
	running  map[uuid.UUID]*entry
	inFlight int
	closed   bool
}

// New returns a scheduler admitting at most limit tasks concurrently. A
// limit <= 0 defaults to runtime.NumCPU().
func New(limit int) *Scheduler {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	s := &Scheduler{
		limit:   limit,
		running: make(map[uuid.UUID]*entry),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.dispatchLoop()
	return s
}

// Schedule enqueues desc at desc's own Priority() and returns a handle
// awaiting completion.
// stateCB, if non-nil, is invoked on every transition this task undergoes.
func (s *Scheduler) Schedule(desc Description, stateCB StateCallback) *Handle {
	h := &Handle{id: uuid.New(), done: make(chan struct{})}
	s.mu.Lock()
	e := &entry{
		desc:     desc,
		priority: desc.Priority(),
		seq:      s.nextSeqLocked(),
		handle:   h,
		stateCB:  stateCB,
	}
	h.cancelFn = func() { s.cancelQueuedOrRunning(e) }
	s.ready = append(s.ready, e)
	s.tryPreemptForLocked(e)
	s.cond.Broadcast()
	s.mu.Unlock()
	return h
}

// Close stops admitting new work once queued tasks drain; running tasks are
// left to finish. It does not cancel anything.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// cancelQueuedOrRunning removes e from the ready queue if still queued, or
// cancels its running context if executing. Either way the task ends up
// finished (not rescheduled) with context.Canceled.
func (s *Scheduler) cancelQueuedOrRunning(e *entry) {
	s.mu.Lock()
	for i, other := range s.ready {
		if other == e {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			s.mu.Unlock()
			e.handle.finish(ErrCancelled)
			if e.stateCB != nil {
				e.stateCB(StateFinished)
			}
			return
		}
	}
	cancel := e.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// tryPreemptForLocked looks for a currently-running task with lower priority
// than candidate whose work is subsumed by candidate's (per
// IsIdempotentWith), and if found, cancels it for rescheduling so candidate
// can take its slot sooner. Must be called with s.mu held.
func (s *Scheduler) tryPreemptForLocked(candidate *entry) {
	if s.inFlight < s.limit {
		return // a slot is already free, no need to preempt anything
	}
	for _, r := range s.running {
		if r.priority >= candidate.priority {
			continue
		}
		if !r.desc.IsIdempotentWith(candidate.desc) {
			continue
		}
		r.pendingReschedule = true
		if r.cancel != nil {
			r.cancel()
		}
		return
	}
}

func (s *Scheduler) dispatchLoop() {
	for {
		s.mu.Lock()
		for {
			if s.closed && len(s.ready) == 0 {
				s.mu.Unlock()
				return
			}
			if len(s.ready) > 0 && s.inFlight < s.limit {
				break
			}
			s.cond.Wait()
		}
		idx := s.bestReadyIndexLocked()
		e := s.ready[idx]
		s.ready = append(s.ready[:idx], s.ready[idx+1:]...)
		s.inFlight++
		s.mu.Unlock()

		go s.run(e)
	}
}

// bestReadyIndexLocked returns the index of the highest-priority, oldest
// (lowest seq) ready entry. Must be called with s.mu held and len(ready)>0.
func (s *Scheduler) bestReadyIndexLocked() int {
	best := 0
	for i := 1; i < len(s.ready); i++ {
		a, b := s.ready[i], s.ready[best]
		if a.priority > b.priority || (a.priority == b.priority && a.seq < b.seq) {
			best = i
		}
	}
	return best
}

func (s *Scheduler) run(e *entry) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	e.cancel = cancel
	s.running[e.handle.id] = e
	s.mu.Unlock()

	if e.stateCB != nil {
		e.stateCB(StateExecuting)
	}

	err := e.desc.Execute(ctx)
	cancel()

	s.mu.Lock()
	delete(s.running, e.handle.id)
	s.inFlight--
	e.cancel = nil

	if e.pendingReschedule {
		e.pendingReschedule = false
		e.priority = PriorityBackground
		e.seq = s.nextSeqLocked()
		e.handle.mu.Lock()
		e.handle.cancelFn = func() { s.cancelQueuedOrRunning(e) }
		e.handle.mu.Unlock()
		s.ready = append(s.ready, e)
		s.cond.Broadcast()
		s.mu.Unlock()

		if e.stateCB != nil {
			e.stateCB(StateCancelledToBeRescheduled)
		}
		return
	}

	s.cond.Broadcast()
	s.mu.Unlock()

	e.handle.finish(err)
	if e.stateCB != nil {
		e.stateCB(StateFinished)
	}
}

// ErrCancelled wraps context.Canceled and is the error a Handle finishes
// with when Cancel removes it before or during execution (see
// cancelQueuedOrRunning). require.ErrorIs(err, context.Canceled) still
// matches it.
var ErrCancelled = xerrors.Errorf("task cancelled: %w", context.Canceled)
