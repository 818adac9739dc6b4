// internal/timerq/queue.go

// Package timerq is the deadline-ordered queue of wake-ups driven by a
// monotonic backend.
package timerq

import (
	"github.com/emirpasic/gods/trees/redblacktree"

	"srprt/internal/executor"
	"srprt/internal/monotonic"
)

// EntryState tracks an entry through Idle -> Queued -> Fired | Cancelled.
type EntryState uint8

const (
	EntryIdle EntryState = iota
	EntryQueued
	EntryFired
	EntryCancelled
)

func (s EntryState) String() string {
	switch s {
	case EntryIdle:
		return "Idle"
	case EntryQueued:
		return "Queued"
	case EntryFired:
		return "Fired"
	case EntryCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Entry is caller-owned storage for one wake-up. Its address is the stable
// handle used to cancel or reschedule it; the queue never allocates entries.
type Entry struct {
	deadline monotonic.Ticks
	seq      uint64
	waker    executor.Waker
	state    EntryState
}

// Deadline returns the instant the entry was last queued for.
func (e *Entry) Deadline() monotonic.Ticks { return e.deadline }

// State returns the entry state.
func (e *Entry) State() EntryState { return e.state }

// nodeKey orders the tree by deadline, then by insertion.
type nodeKey struct {
	deadline monotonic.Ticks
	seq      uint64
}

func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.deadline < kb.deadline:
		return -1
	case ka.deadline > kb.deadline:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// Queue holds entries sorted by deadline. Entries with equal deadlines fire
// in insertion order. The queue is shared between the monotonic interrupt
// and every task that schedules, so each access runs under the configured
// lock.
type Queue struct {
	backend monotonic.Backend
	lock    func(func())
	rbt     *redblacktree.Tree
	seq     uint64
	fired   uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLock sets the critical section guarding queue state. The default
// runs the closure directly, which is only sound when one priority level
// uses the queue.
func WithLock(lock func(func())) Option {
	return func(q *Queue) { q.lock = lock }
}

// New creates an empty queue over backend.
func New(backend monotonic.Backend, opts ...Option) *Queue {
	q := &Queue{
		backend: backend,
		lock:    func(f func()) { f() },
		rbt:     redblacktree.NewWith(cmp),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Now returns the backend's current instant.
func (q *Queue) Now() monotonic.Ticks { return q.backend.Now() }

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	var n int
	q.lock(func() { n = q.rbt.Size() })
	return n
}

// Fired returns how many entries have fired so far.
func (q *Queue) Fired() uint64 { return q.fired }

// Peek returns the earliest deadline, if any.
func (q *Queue) Peek() (monotonic.Ticks, bool) {
	var (
		d  monotonic.Ticks
		ok bool
	)
	q.lock(func() {
		if n := q.rbt.Left(); n != nil {
			d, ok = n.Key.(nodeKey).deadline, true
		}
	})
	return d, ok
}

// Schedule queues e to wake w at deadline. An entry that is already queued
// is a caller bug; use Reschedule.
func (q *Queue) Schedule(deadline monotonic.Ticks, e *Entry, w executor.Waker) {
	q.lock(func() {
		if e.state == EntryQueued {
			panic("timerq: entry already queued")
		}
		e.waker = w
		if q.insertLocked(deadline, e) {
			q.arm(deadline)
		}
	})
}

// Cancel removes e from the queue. It reports false when the entry had
// already fired or been cancelled; that is a normal outcome, not an error.
func (q *Queue) Cancel(e *Entry) bool {
	var ok bool
	q.lock(func() {
		if e.state != EntryQueued {
			return
		}
		q.rbt.Remove(nodeKey{e.deadline, e.seq})
		e.state = EntryCancelled
		ok = true
	})
	return ok
}

// Reschedule moves a queued entry to a new deadline, reporting false when
// it is no longer queued.
func (q *Queue) Reschedule(e *Entry, deadline monotonic.Ticks) bool {
	var ok bool
	q.lock(func() {
		if e.state != EntryQueued {
			return
		}
		q.rbt.Remove(nodeKey{e.deadline, e.seq})
		if q.insertLocked(deadline, e) {
			q.arm(deadline)
		}
		ok = true
	})
	return ok
}

func (q *Queue) insertLocked(deadline monotonic.Ticks, e *Entry) bool {
	e.deadline = deadline
	e.seq = q.seq
	e.state = EntryQueued
	q.seq++
	q.rbt.Put(nodeKey{deadline, e.seq}, e)
	return q.rbt.Left().Value.(*Entry) == e
}

// arm programs the compare for a new head. A deadline that is already due
// goes straight to the interrupt instead of waiting for a compare that can
// no longer match. It runs under the lock: an insert that preempted between
// picking the head and writing the compare would otherwise be overwritten.
func (q *Queue) arm(deadline monotonic.Ticks) {
	q.backend.EnableTimer()
	if !q.backend.SetCompare(deadline) {
		q.backend.PendInterrupt()
	}
}

// OnMonotonicInterrupt is the body of the monotonic's interrupt handler. It
// wakes every due entry in deadline order and re-arms the compare for the
// next one, or leaves the timer off when the queue is empty.
func (q *Queue) OnMonotonicInterrupt() {
	q.backend.ClearCompareFlag()
	q.backend.OnInterrupt()

	for {
		var (
			fired *Entry
			done bool
		)
		q.lock(func() {
			n := q.rbt.Left()
			if n == nil {
				q.backend.DisableTimer()
				done = true
				return
			}
			e := n.Value.(*Entry)
			if q.backend.Now() >= e.deadline {
				q.rbt.Remove(n.Key)
				e.state = EntryFired
				fired = e
				return
			}
			q.backend.EnableTimer()
			// the deadline may have passed while arming
			done = q.backend.SetCompare(e.deadline) && q.backend.Now() < e.deadline
		})

		if fired == nil {
			if done {
				return
			}
			continue
		}
		q.fired++
		if fired.waker != nil {
			fired.waker.Wake()
		}
	}
}
