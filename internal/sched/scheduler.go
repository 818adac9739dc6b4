// internal/sched/scheduler.go

// Package sched is the runtime: it turns the static task and resource
// tables into interrupt-driven dispatchers on a simulated core and exposes
// the operations task bodies use to start, schedule and lock.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"srprt/internal/ceiling"
	"srprt/internal/dispatch"
	"srprt/internal/hw"
	"srprt/internal/monotonic"
	"srprt/internal/syncq"
	"srprt/internal/timerq"
)

// Runtime owns the simulated core and everything bound to it.
type Runtime struct {
	id  uuid.UUID
	cfg Config

	ctrl    *hw.Controller
	counter *hw.Counter
	mono    monotonic.Backend
	tq      *timerq.Queue

	tok    *ceiling.Token
	locker *ceiling.Locker
	system uint8 // ceiling of the runtime's own queues

	tasks    []*taskState
	byName   map[string]TaskID
	levels   map[uint8]*dispatch.Dispatcher
	ceilings map[string]uint8

	observer Observer
	log      *slog.Logger
	idle     func(*Context)
	idleCtx  *Context
	started  bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithObserver streams status events to obs. Several observers are fanned
// out in order.
func WithObserver(obs ...Observer) Option {
	return func(rt *Runtime) { rt.observer = append(rt.observer.(MultiObserver), obs...) }
}

// WithLogger sets the lifecycle logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithRunID fixes the runtime instance id instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(rt *Runtime) { rt.id = id }
}

// WithIdle sets the body run in thread mode after every tick pulse of Run.
func WithIdle(f func(*Context)) Option {
	return func(rt *Runtime) { rt.idle = f }
}

// Handle refers to one scheduled instance. It goes stale once the instance
// fires or is cancelled.
type Handle struct {
	task TaskID
	slot int
	gen  uint32
}

// Task returns the task the handle belongs to.
func (h Handle) Task() TaskID { return h.task }

// Stats is a snapshot of where a task's slots currently are. For every
// task Free+Ready+Running+Scheduled == Capacity.
type Stats struct {
	Capacity  int
	Free      int
	Ready     int
	Running   int
	Scheduled int
}

// New builds the runtime from cfg. Interrupts stay disabled until Start.
// An invalid configuration panics: it is a build error, not a runtime one.
func New(cfg Config, opts ...Option) *Runtime {
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("sched: %v", err))
	}

	rt := &Runtime{
		id:       uuid.New(),
		cfg:      cfg,
		ctrl:     hw.NewController(cfg.PrioBits),
		tok:      &ceiling.Token{},
		byName:   make(map[string]TaskID, len(cfg.Tasks)),
		levels:   make(map[uint8]*dispatch.Dispatcher),
		ceilings: make(map[string]uint8, len(cfg.Resources)),
		observer: MultiObserver{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.idleCtx = &Context{rt: rt}

	rt.ctrl.DisableInterrupts()
	rt.locker = ceiling.NewLocker(rt.tok, nil)

	m := cfg.Monotonic
	rt.system = m.Priority
	capacity := map[uint8]int{}
	for i, tc := range cfg.Tasks {
		ts := newTaskState(rt, TaskID(i), tc)
		rt.tasks = append(rt.tasks, ts)
		rt.byName[tc.Name] = ts.task.ID
		rt.system = max(rt.system, tc.Priority)
		if ts.task.Kind != KindHardware {
			capacity[tc.Priority] += tc.Capacity
		}
	}
	for _, r := range cfg.Resources {
		rt.ceilings[r.Name] = r.Ceiling
		rt.system = max(rt.system, r.Ceiling)
	}

	rt.counter = hw.NewCounter(rt.ctrl, hw.Line(m.Line), m.Bits)
	rt.mono = monotonic.New(monotonic.Kind(m.Kind), rt.counter)
	rt.tq = timerq.New(rt.mono, timerq.WithLock(rt.critical))

	timerLevel, shared := cfg.sharedTimerLevel()
	for i, p := range cfg.levels() {
		p := p
		line := hw.Line(cfg.Dispatchers[i])
		dopts := []dispatch.Option{
			dispatch.WithLock(rt.critical),
			dispatch.WithClaim(rt.claim),
		}
		if shared && p == timerLevel {
			dopts = append(dopts, dispatch.WithTimer(rt.tq.OnMonotonicInterrupt))
		}
		d := dispatch.New(p, dispatch.NewReadyQueue(capacity[p]), rt.runReady,
			func() { rt.ctrl.Pend(line) }, dopts...)
		rt.levels[p] = d
		rt.ctrl.Configure(line, p, func() { rt.tok.Run(p, d.Handle) })
	}
	if !shared {
		rt.ctrl.Configure(hw.Line(m.Line), m.Priority, func() {
			rt.tok.Run(m.Priority, rt.tq.OnMonotonicInterrupt)
		})
	}

	for _, ts := range rt.tasks {
		ts := ts
		switch ts.task.Kind {
		case KindHardware:
			p := ts.task.Priority
			rt.ctrl.Configure(ts.task.Line, p, func() {
				rt.tok.Run(p, func() { rt.runHardware(ts) })
			})
		case KindAsync:
			ts.level = rt.levels[ts.task.Priority]
			ts.level.AddPoller(func() {
				if ts.exec.TakePending() {
					rt.pollAsync(ts)
				}
			})
		default:
			ts.level = rt.levels[ts.task.Priority]
		}
	}

	// the line mask snapshot needs every line configured
	rt.locker.SetStrategy(ceiling.NewStrategy(ceiling.Kind(cfg.Strategy), rt.ctrl))

	rt.log.Info("runtime built",
		"run_id", rt.id,
		"tasks", len(rt.tasks),
		"levels", len(rt.levels),
		"strategy", cfg.Strategy,
		"monotonic", m.Kind,
		"system_ceiling", rt.system,
	)
	return rt
}

// RunID identifies this runtime instance in events and traces.
func (rt *Runtime) RunID() uuid.UUID { return rt.id }

// Controller exposes the simulated interrupt controller.
func (rt *Runtime) Controller() *hw.Controller { return rt.ctrl }

// Locker returns the ceiling locker shared by every task.
func (rt *Runtime) Locker() *ceiling.Locker { return rt.locker }

// Timers returns the timer queue.
func (rt *Runtime) Timers() *timerq.Queue { return rt.tq }

// Started reports whether Start has run.
func (rt *Runtime) Started() bool { return rt.started }

// Tasks returns the task descriptors in table order.
func (rt *Runtime) Tasks() []Task {
	out := make([]Task, len(rt.tasks))
	for i, ts := range rt.tasks {
		out[i] = ts.task
	}
	return out
}

// Task looks a task up by name. Unknown names panic.
func (rt *Runtime) Task(name string) TaskID {
	id, ok := rt.byName[name]
	if !ok {
		panic(fmt.Sprintf("sched: unknown task %q", name))
	}
	return id
}

func (rt *Runtime) state(id TaskID) *taskState {
	if int(id) >= len(rt.tasks) {
		panic(fmt.Sprintf("sched: unknown task id %d", id))
	}
	return rt.tasks[id]
}

// Bind attaches the body of a classic or hardware task.
func (rt *Runtime) Bind(name string, body Body) {
	ts := rt.state(rt.Task(name))
	if rt.started {
		panic(fmt.Sprintf("sched: bind %q after start", name))
	}
	if ts.task.Kind == KindAsync {
		panic(fmt.Sprintf("sched: task %q is async, use BindAsync", name))
	}
	ts.body = body
}

// BindAsync attaches the body of an async task.
func (rt *Runtime) BindAsync(name string, body AsyncBody) {
	ts := rt.state(rt.Task(name))
	if rt.started {
		panic(fmt.Sprintf("sched: bind %q after start", name))
	}
	if ts.task.Kind != KindAsync {
		panic(fmt.Sprintf("sched: task %q is %s, use Bind", name, ts.task.Kind))
	}
	ts.async = body
}

// NewResource registers the value of a resource from the table.
func NewResource[T any](rt *Runtime, name string, v T) *ceiling.Resource[T] {
	return ceiling.NewResource(name, rt.ceilingOf(name), v)
}

// NewSignal builds a signal guarded at the ceiling of the named resource.
func NewSignal[T any](rt *Runtime, name string) *syncq.Signal[T] {
	return syncq.NewSignal[T](rt.locker, rt.ceilingOf(name))
}

// NewChannel builds an n-slot channel guarded at the ceiling of the named
// resource.
func NewChannel[T any](rt *Runtime, name string, n int) *syncq.Channel[T] {
	return syncq.NewChannel[T](rt.locker, rt.ceilingOf(name), n)
}

func (rt *Runtime) ceilingOf(name string) uint8 {
	c, ok := rt.ceilings[name]
	if !ok {
		panic(fmt.Sprintf("sched: unknown resource %q", name))
	}
	return c
}

// Start runs init with interrupts disabled, then enables them. Work
// triggered from init is dispatched as soon as interrupts come on.
func (rt *Runtime) Start(init func(*Context)) {
	if rt.started {
		panic("sched: runtime already started")
	}
	for _, ts := range rt.tasks {
		if !ts.bound() {
			panic(fmt.Sprintf("sched: task %q has no body", ts.task.Name))
		}
	}
	rt.started = true
	if init != nil {
		init(rt.idleCtx)
	}
	rt.log.Info("runtime started", "run_id", rt.id, "now", rt.Now())
	rt.ctrl.EnableInterrupts()
}

// critical guards the runtime's shared queues.
func (rt *Runtime) critical(f func()) { rt.locker.Critical(rt.system, f) }

// Trigger starts one instance of a classic or async task with arg. When
// every slot is in use the argument comes back in a *RejectedError.
func (rt *Runtime) Trigger(id TaskID, arg any) error {
	ts := rt.state(id)
	switch ts.task.Kind {
	case KindHardware:
		panic(fmt.Sprintf("sched: hardware task %q is started by its line", ts.task.Name))
	case KindAsync:
		if !ts.exec.TryReserve() {
			return rt.reject(ts, arg)
		}
		rt.critical(func() {
			ts.args[0] = arg
			rt.enqueueLocked(ts, 0)
		})
		return nil
	}

	var ok bool
	rt.critical(func() {
		var slot int
		if slot, ok = ts.free.Pop(); ok {
			ts.args[slot] = arg
			rt.enqueueLocked(ts, slot)
		}
	})
	if !ok {
		return rt.reject(ts, arg)
	}
	return nil
}

// Pend pends a hardware task's line, as the peripheral would.
func (rt *Runtime) Pend(id TaskID) {
	ts := rt.state(id)
	if ts.task.Kind != KindHardware {
		panic(fmt.Sprintf("sched: task %q has no line", ts.task.Name))
	}
	rt.ctrl.Pend(ts.task.Line)
}

// Schedule starts one instance of a classic task at instant at.
func (rt *Runtime) Schedule(id TaskID, at monotonic.Ticks, arg any) (Handle, error) {
	ts := rt.state(id)
	if ts.task.Kind != KindClassic {
		panic(fmt.Sprintf("sched: only classic tasks can be scheduled, %q is %s", ts.task.Name, ts.task.Kind))
	}

	var (
		h  Handle
		ok bool
	)
	rt.critical(func() {
		var slot int
		if slot, ok = ts.free.Pop(); !ok {
			return
		}
		ts.args[slot] = arg
		ts.gens[slot]++
		ts.scheduled++
		h = Handle{task: id, slot: slot, gen: ts.gens[slot]}
		rt.emit(StatusSchedule, ts, slot)
		rt.tq.Schedule(at, &ts.entries[slot], &ts.wakers[slot])
	})
	if !ok {
		return Handle{}, rt.reject(ts, arg)
	}
	return h, nil
}

// ScheduleAfter schedules at least d ticks from now.
func (rt *Runtime) ScheduleAfter(id TaskID, d monotonic.Ticks, arg any) (Handle, error) {
	return rt.Schedule(id, rt.Now()+d, arg)
}

// Cancel removes a scheduled instance and returns its argument. A handle
// that already fired or was cancelled gives ErrNotFound.
func (rt *Runtime) Cancel(h Handle) (any, error) {
	ts := rt.state(h.task)
	var (
		arg any
		ok  bool
	)
	rt.critical(func() {
		if !rt.liveLocked(ts, h) || !rt.tq.Cancel(&ts.entries[h.slot]) {
			return
		}
		arg, ts.args[h.slot] = ts.args[h.slot], nil
		ts.scheduled--
		ts.free.Push(h.slot)
		ok = true
	})
	if !ok {
		rt.emit(StatusStale, ts, h.slot)
		return nil, ErrNotFound
	}
	rt.emit(StatusCancel, ts, h.slot)
	return arg, nil
}

// Reschedule moves a scheduled instance to a new instant.
func (rt *Runtime) Reschedule(h Handle, at monotonic.Ticks) error {
	ts := rt.state(h.task)
	var ok bool
	rt.critical(func() {
		ok = rt.liveLocked(ts, h) && rt.tq.Reschedule(&ts.entries[h.slot], at)
	})
	if !ok {
		rt.emit(StatusStale, ts, h.slot)
		return ErrNotFound
	}
	rt.emit(StatusSchedule, ts, h.slot)
	return nil
}

func (rt *Runtime) liveLocked(ts *taskState, h Handle) bool {
	return h.slot >= 0 && h.slot < len(ts.gens) && ts.gens[h.slot] == h.gen
}

func (rt *Runtime) reject(ts *taskState, arg any) error {
	rt.emit(StatusReject, ts, -1)
	rt.log.Debug("trigger rejected", "task", ts.task.Name, "capacity", ts.task.Capacity)
	return &RejectedError{Task: ts.task.Name, Arg: arg}
}

// enqueueLocked hands a claimed slot to the task's dispatcher.
func (rt *Runtime) enqueueLocked(ts *taskState, slot int) {
	rt.emit(StatusEnqueue, ts, slot)
	// ready capacity is the sum of the level's slots, it cannot fill up
	if !ts.level.Enqueue(dispatch.Ready{Task: uint16(ts.task.ID), Slot: slot}) {
		panic(fmt.Sprintf("sched: ready queue of priority %d overflowed", ts.task.Priority))
	}
}

func (rt *Runtime) claim(r dispatch.Ready) {
	if ts := rt.tasks[r.Task]; ts.task.Kind == KindClassic {
		ts.running++
	}
}

func (rt *Runtime) runReady(r dispatch.Ready) {
	ts := rt.tasks[r.Task]
	arg := ts.args[r.Slot]
	ts.args[r.Slot] = nil

	if ts.task.Kind == KindAsync {
		ts.exec.Spawn(ts.async(ts.ctx, arg))
		rt.pollAsync(ts)
		return
	}

	rt.emit(StatusDispatch, ts, r.Slot)
	ts.body(ts.ctx, arg)
	rt.emit(StatusFinish, ts, r.Slot)
	rt.critical(func() {
		ts.running--
		ts.free.Push(r.Slot)
	})
}

func (rt *Runtime) pollAsync(ts *taskState) {
	rt.emit(StatusDispatch, ts, 0)
	if ts.exec.Poll(ts.waker) {
		rt.emit(StatusFinish, ts, 0)
		return
	}
	rt.emit(StatusSuspend, ts, 0)
}

func (rt *Runtime) runHardware(ts *taskState) {
	rt.emit(StatusDispatch, ts, 0)
	ts.running++
	ts.body(ts.ctx, nil)
	ts.running--
	rt.emit(StatusFinish, ts, 0)
}

// Stats returns where the task's slots are right now.
func (rt *Runtime) Stats(id TaskID) Stats {
	ts := rt.state(id)
	s := Stats{Capacity: ts.task.Capacity}
	rt.critical(func() {
		if ts.level != nil {
			s.Ready = ts.level.Ready().Count(uint16(id))
		}
		switch ts.task.Kind {
		case KindClassic:
			s.Free = ts.free.Len()
			s.Running = ts.running
			s.Scheduled = ts.scheduled
		case KindAsync:
			if ts.exec.IsRunning() && s.Ready == 0 {
				s.Running = 1
			}
			s.Free = s.Capacity - s.Ready - s.Running
		case KindHardware:
			s.Running = ts.running
			s.Free = s.Capacity - s.Running
		}
	})
	return s
}

// Now returns the monotonic clock.
func (rt *Runtime) Now() monotonic.Ticks { return rt.mono.Now() }

// Advance lets n ticks of simulated time pass. Every timer event on the way
// is taken as its own interrupt.
func (rt *Runtime) Advance(n monotonic.Ticks) { rt.counter.Advance(n) }

// Run drives simulated time from clock, one tick at a time, running the
// idle body after each. A backlog of pulses is caught up in one go. It
// stops when ctx is done, the clock stops or limit ticks have passed; a
// zero limit runs until one of the others.
func (rt *Runtime) Run(ctx context.Context, clock *TickClock, limit monotonic.Ticks) error {
	if !rt.started {
		return fmt.Errorf("sched: run before start")
	}
	var ran monotonic.Ticks
	for limit == 0 || ran < limit {
		select {
		case <-ctx.Done():
			rt.log.Info("runtime stopped", "run_id", rt.id, "reason", ctx.Err(), "ticks", ran)
			return nil
		case _, ok := <-clock.C():
			if !ok {
				rt.log.Info("runtime stopped", "run_id", rt.id, "reason", "clock stopped", "ticks", ran)
				return nil
			}
		}
		n := clock.Take()
		if limit != 0 && ran+n > limit {
			n = limit - ran
		}
		if n > 1 {
			rt.log.Debug("catching up", "ticks", n)
		}
		for ; n > 0; n-- {
			rt.Advance(1)
			ran++
			if rt.idle != nil {
				rt.idle(rt.idleCtx)
			}
		}
	}
	rt.log.Info("runtime stopped", "run_id", rt.id, "ticks", ran, "clock_ticks", clock.Elapsed())
	return nil
}

func (rt *Runtime) emit(kind StatusKind, ts *taskState, slot int) {
	rt.observer.Observe(StatusEvent{
		Time:     time.Now(),
		RunID:    rt.id,
		Kind:     kind,
		TaskID:   ts.task.ID,
		Task:     ts.task.Name,
		Priority: ts.task.Priority,
		Slot:     slot,
		Tick:     rt.mono.Now(),
	})
}
