package sched

import (
	"srprt/internal/ceiling"
	"srprt/internal/executor"
	"srprt/internal/monotonic"
	"srprt/internal/timerq"
)

// Context is what a task body sees of the runtime. Each task owns one for
// its whole life; init and idle share another with no task.
type Context struct {
	rt   *Runtime
	task *Task
}

// Task returns the running task's descriptor, nil in init and idle.
func (c *Context) Task() *Task { return c.task }

// Runtime returns the runtime the context belongs to.
func (c *Context) Runtime() *Runtime { return c.rt }

// Priority returns the current effective priority.
func (c *Context) Priority() uint8 { return c.rt.tok.Priority() }

// Locker returns the ceiling locker for resources shared across levels.
func (c *Context) Locker() *ceiling.Locker { return c.rt.locker }

// Now returns the monotonic clock.
func (c *Context) Now() monotonic.Ticks { return c.rt.Now() }

func (c *Context) Trigger(id TaskID, arg any) error { return c.rt.Trigger(id, arg) }

func (c *Context) Schedule(id TaskID, at monotonic.Ticks, arg any) (Handle, error) {
	return c.rt.Schedule(id, at, arg)
}

func (c *Context) ScheduleAfter(id TaskID, d monotonic.Ticks, arg any) (Handle, error) {
	return c.rt.ScheduleAfter(id, d, arg)
}

func (c *Context) Cancel(h Handle) (any, error) { return c.rt.Cancel(h) }

func (c *Context) Reschedule(h Handle, at monotonic.Ticks) error { return c.rt.Reschedule(h, at) }

// Delay suspends an async task for at least d ticks.
func (c *Context) Delay(d monotonic.Ticks) *timerq.Delay { return c.rt.tq.Delay(d) }

// DelayUntil suspends an async task until instant.
func (c *Context) DelayUntil(instant monotonic.Ticks) *timerq.Delay {
	return c.rt.tq.DelayUntil(instant)
}

// Lock runs f with exclusive access to r.
func Lock[T, R any](c *Context, r *ceiling.Resource[T], f func(*T) R) R {
	return ceiling.Lock(c.rt.locker, r, f)
}

// LockFunc is Lock without a result.
func LockFunc[T any](c *Context, r *ceiling.Resource[T], f func(*T)) {
	ceiling.LockFunc(c.rt.locker, r, f)
}

// TimeoutAt bounds inner by instant on the runtime's timer queue.
func TimeoutAt[T any](c *Context, instant monotonic.Ticks, inner executor.Future[T]) *timerq.Timeout[T] {
	return timerq.TimeoutAt(c.rt.tq, instant, inner)
}

// TimeoutAfter bounds inner by a duration from now.
func TimeoutAfter[T any](c *Context, d monotonic.Ticks, inner executor.Future[T]) *timerq.Timeout[T] {
	return timerq.TimeoutAfter(c.rt.tq, d, inner)
}
