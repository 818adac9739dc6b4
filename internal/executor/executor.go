// internal/executor/executor.go

// Package executor holds suspendable task bodies: one in-progress
// computation per task type, polled only by the owning priority's
// dispatcher.
package executor

import "sync/atomic"

// Executor is the single storage slot of one suspendable task type.
type Executor struct {
	task    Future[struct{}]
	running atomic.Bool
	pending atomic.Bool
	polls   uint64
}

// IsRunning reports whether the slot holds an in-progress computation.
func (e *Executor) IsRunning() bool { return e.running.Load() }

// IsPending reports whether the computation asked to be polled.
func (e *Executor) IsPending() bool { return e.pending.Load() }

// SetPending marks the computation for polling.
func (e *Executor) SetPending() { e.pending.Store(true) }

// TakePending clears the pending flag and reports its previous value.
func (e *Executor) TakePending() bool { return e.pending.Swap(false) }

// TryReserve claims the slot. It fails while a computation is in progress.
func (e *Executor) TryReserve() bool {
	return e.running.CompareAndSwap(false, true)
}

// Spawn stores the computation in a slot claimed with TryReserve. A nil
// computation could never complete, so it releases the slot and panics.
func (e *Executor) Spawn(f Future[struct{}]) {
	if !e.running.Load() {
		panic("executor: spawn without a reserved slot")
	}
	if f == nil {
		e.running.Store(false)
		panic("executor: spawn of a nil future")
	}
	e.task = f
}

// Poll advances the computation one step with w as its waker. It reports
// true when the computation completed and the slot was freed.
func (e *Executor) Poll(w Waker) bool {
	if !e.running.Load() || e.task == nil {
		return false
	}
	e.polls++
	if _, done := e.task.Poll(w); !done {
		return false
	}
	e.task = nil
	e.running.Store(false)
	return true
}

// Polls returns how many times the computation slot has been polled.
func (e *Executor) Polls() uint64 { return e.polls }
