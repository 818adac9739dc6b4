// internal/dispatch/queue.go

// Package dispatch moves triggered task instances from producers to the
// interrupt handler of their priority level.
package dispatch

import (
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// FreeQueue holds the unused argument-slot indices of one task type.
type FreeQueue struct {
	buf *circularbuffer.Queue
	cap int
}

// NewFreeQueue returns a free queue pre-filled with indices 0..n-1.
func NewFreeQueue(n int) *FreeQueue {
	if n <= 0 {
		panic(fmt.Sprintf("dispatch: capacity must be positive, got %d", n))
	}
	q := &FreeQueue{buf: circularbuffer.New(n), cap: n}
	for i := 0; i < n; i++ {
		q.buf.Enqueue(i)
	}
	return q
}

// Pop takes a free slot; ok is false when every slot is in use.
func (q *FreeQueue) Pop() (int, bool) {
	v, ok := q.buf.Dequeue()
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// Push returns a slot. Returning more slots than exist means a slot was
// released twice, which panics.
func (q *FreeQueue) Push(slot int) {
	if q.buf.Full() {
		panic(fmt.Sprintf("dispatch: slot %d released into a full free queue", slot))
	}
	q.buf.Enqueue(slot)
}

// Len returns the number of free slots.
func (q *FreeQueue) Len() int { return q.buf.Size() }

// Cap returns the task's capacity.
func (q *FreeQueue) Cap() int { return q.cap }

// Ready identifies one triggered instance: which task, which argument slot.
type Ready struct {
	Task uint16
	Slot int
}

// ReadyQueue is the FIFO of triggered-but-not-yet-run instances of one
// priority level.
type ReadyQueue struct {
	buf *circularbuffer.Queue
}

// NewReadyQueue returns an empty ready queue holding up to n entries.
func NewReadyQueue(n int) *ReadyQueue {
	if n <= 0 {
		panic(fmt.Sprintf("dispatch: capacity must be positive, got %d", n))
	}
	return &ReadyQueue{buf: circularbuffer.New(n)}
}

// Push appends r. It reports false instead of overwriting when full.
func (q *ReadyQueue) Push(r Ready) bool {
	if q.buf.Full() {
		return false
	}
	q.buf.Enqueue(r)
	return true
}

// Pop removes the oldest entry.
func (q *ReadyQueue) Pop() (Ready, bool) {
	v, ok := q.buf.Dequeue()
	if !ok {
		return Ready{}, false
	}
	return v.(Ready), true
}

// Len returns the number of queued entries.
func (q *ReadyQueue) Len() int { return q.buf.Size() }

// Count returns the queued entries belonging to task.
func (q *ReadyQueue) Count(task uint16) int {
	n := 0
	for _, v := range q.buf.Values() {
		if v.(Ready).Task == task {
			n++
		}
	}
	return n
}
