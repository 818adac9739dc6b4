package sched

import (
	"srprt/internal/dispatch"
	"srprt/internal/executor"
	"srprt/internal/hw"
	"srprt/internal/timerq"
)

// TaskID uniquely identifies a task: its row in the task table.
type TaskID uint16

// Kind says how a task is started and stored.
type Kind string

const (
	// KindClassic tasks run to completion with arguments queued in one of
	// Capacity slots.
	KindClassic Kind = "classic"
	// KindAsync tasks are suspendable and own a single executor slot.
	KindAsync Kind = "async"
	// KindHardware tasks are bound to an interrupt line and take no
	// arguments.
	KindHardware Kind = "hardware"
)

// Body is the code of a classic or hardware task.
type Body func(ctx *Context, arg any)

// AsyncBody starts a suspendable task, returning its computation.
type AsyncBody func(ctx *Context, arg any) executor.Future[struct{}]

// Task is the compile-time descriptor of one task. It is never mutated
// once the runtime is built.
type Task struct {
	ID       TaskID
	Name     string
	Priority uint8 // 1 is the lowest task priority; 0 is idle
	Capacity int   // pending-instance slots, 1 for async and hardware tasks
	Kind     Kind
	Line     hw.Line // hardware tasks only
}

// taskState is the runtime storage behind one descriptor.
type taskState struct {
	task  Task
	body  Body
	async AsyncBody
	ctx   *Context

	level *dispatch.Dispatcher // nil for hardware tasks
	free  *dispatch.FreeQueue  // classic tasks only
	args  []any

	// timer-queue storage, one entry per argument slot
	entries []timerq.Entry
	gens    []uint32
	wakers  []slotWaker

	exec  *executor.Executor // async tasks only
	waker executor.Waker

	running   int
	scheduled int
}

func newTaskState(rt *Runtime, id TaskID, tc TaskConfig) *taskState {
	ts := &taskState{
		task: Task{
			ID:       id,
			Name:     tc.Name,
			Priority: tc.Priority,
			Capacity: tc.Capacity,
			Kind:     Kind(tc.Kind),
		},
		args: make([]any, tc.Capacity),
	}
	if tc.Line != nil {
		ts.task.Line = hw.Line(*tc.Line)
	}
	ts.ctx = &Context{rt: rt, task: &ts.task}

	switch ts.task.Kind {
	case KindClassic:
		ts.free = dispatch.NewFreeQueue(tc.Capacity)
		ts.entries = make([]timerq.Entry, tc.Capacity)
		ts.gens = make([]uint32, tc.Capacity)
		ts.wakers = make([]slotWaker, tc.Capacity)
		for i := range ts.wakers {
			ts.wakers[i] = slotWaker{rt: rt, ts: ts, slot: i}
		}
	case KindAsync:
		ts.exec = &executor.Executor{}
		ts.waker = executor.WakerFunc(func() {
			ts.exec.SetPending()
			ts.level.Pend()
		})
	}
	return ts
}

func (ts *taskState) bound() bool {
	if ts.task.Kind == KindAsync {
		return ts.async != nil
	}
	return ts.body != nil
}

// slotWaker moves a fired timer-queue entry's slot to the ready queue.
type slotWaker struct {
	rt   *Runtime
	ts   *taskState
	slot int
}

func (w *slotWaker) Wake() {
	w.rt.emit(StatusFire, w.ts, w.slot)
	w.rt.critical(func() {
		w.ts.scheduled--
		w.rt.enqueueLocked(w.ts, w.slot)
	})
}
