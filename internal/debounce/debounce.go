// Package debounce implements a time-windowed coalescer: rapid-fire calls
// within a window are merged via a caller-supplied combinator and emitted
// once, after the window has elapsed without a further call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces calls to Schedule that arrive within Window of one
// another, merging their parameters with Combine and eventually invoking
// Emit exactly once per settled window.
//
// P must be safe to pass by value between goroutines (the zero value is
// never combined with anything: the first Schedule call in a window seeds
// in-progress with its own parameter unmodified).
type Debouncer[P any] struct {
	Window  time.Duration
	Combine func(older, newer P) P
	Emit    func(p P)

	mu         sync.Mutex
	inProgress *pending[P]
}

type pending[P any] struct {
	param   P
	timer   *time.Timer
	stopped bool
}

// Schedule records a new call with parameter p. If no emission is currently
// pending, it starts a new window. If one is pending, its timer is canceled,
// its parameter is combined with p (older, newer), and a fresh window
// begins.
func (d *Debouncer[P]) Schedule(p P) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inProgress != nil {
		d.inProgress.stopped = true
		d.inProgress.timer.Stop()
		p = d.Combine(d.inProgress.param, p)
	}

	pd := &pending[P]{param: p}
	pd.timer = time.AfterFunc(d.Window, func() { d.fire(pd) })
	d.inProgress = pd
}

func (d *Debouncer[P]) fire(pd *pending[P]) {
	d.mu.Lock()
	if pd.stopped {
		d.mu.Unlock()
		return
	}
	// Only clear in-progress if it is still this timer's pending entry;
	// a concurrent Schedule may already have replaced it (impossible given
	// the Stop() above runs under the same lock, but kept as a safety net
	// against clock/timer races).
	if d.inProgress == pd {
		d.inProgress = nil
	}
	param := pd.param
	d.mu.Unlock()

	d.Emit(param)
}

// InProgress reports whether an emission is currently pending, for tests.
func (d *Debouncer[P]) InProgress() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inProgress != nil
}
