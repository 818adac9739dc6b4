// internal/timerq/delay.go

package timerq

import (
	"errors"

	"srprt/internal/executor"
	"srprt/internal/monotonic"
)

// ErrTimeout is the result of a Timeout whose deadline won the race.
var ErrTimeout = errors.New("timerq: timeout")

// Delay is a future that completes once the clock reaches its instant. It
// owns the queue entry that wakes it.
type Delay struct {
	q       *Queue
	instant monotonic.Ticks
	entry   Entry
}

// DelayUntil returns a future completing at instant.
func (q *Queue) DelayUntil(instant monotonic.Ticks) *Delay {
	return &Delay{q: q, instant: instant}
}

// Delay returns a future completing at least d ticks from now. A non-zero
// delay is rounded up by one tick since "now" may be anywhere inside the
// current tick.
func (q *Queue) Delay(d monotonic.Ticks) *Delay {
	return q.DelayUntil(q.after(d))
}

func (q *Queue) after(d monotonic.Ticks) monotonic.Ticks {
	now := q.backend.Now()
	at := now + d
	if at != now {
		at++
	}
	return at
}

// Instant returns the instant the delay completes at.
func (d *Delay) Instant() monotonic.Ticks { return d.instant }

func (d *Delay) Poll(w executor.Waker) (struct{}, bool) {
	if d.q.backend.Now() >= d.instant {
		d.Cancel()
		return struct{}{}, true
	}
	if d.entry.state != EntryQueued {
		d.q.Schedule(d.instant, &d.entry, w)
	}
	return struct{}{}, false
}

// Cancel withdraws the delay's queue entry if it is still queued.
func (d *Delay) Cancel() {
	if d.entry.state == EntryQueued {
		d.q.Cancel(&d.entry)
	}
}

// Timeout races a future against a deadline.
type Timeout[T any] struct {
	delay *Delay
	inner executor.Future[T]
}

// TimeoutAt bounds inner by instant.
func TimeoutAt[T any](q *Queue, instant monotonic.Ticks, inner executor.Future[T]) *Timeout[T] {
	return &Timeout[T]{delay: q.DelayUntil(instant), inner: inner}
}

// TimeoutAfter bounds inner by a duration from now, rounded like Delay.
func TimeoutAfter[T any](q *Queue, d monotonic.Ticks, inner executor.Future[T]) *Timeout[T] {
	return TimeoutAt(q, q.after(d), inner)
}

// Poll polls the inner future first, so a future that completes at exactly
// the deadline resolves to its value rather than ErrTimeout.
func (t *Timeout[T]) Poll(w executor.Waker) (executor.Result[T], bool) {
	if v, ok := t.inner.Poll(w); ok {
		t.delay.Cancel()
		return executor.Result[T]{Value: v}, true
	}
	if _, ok := t.delay.Poll(w); ok {
		if c, ok := t.inner.(interface{ Cancel() }); ok {
			c.Cancel()
		}
		return executor.Result[T]{Err: ErrTimeout}, true
	}
	return executor.Result[T]{}, false
}
