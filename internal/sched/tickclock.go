// internal/sched/tickclock.go

package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"srprt/internal/monotonic"
)

// TickClock paces simulated time against the wall clock. Pulses the
// consumer has not taken yet accumulate as a backlog, so a slow consumer
// catches up instead of losing simulated time.
type TickClock struct {
	ch      chan struct{}
	backlog atomic.Uint64
	total   atomic.Uint64
	once    sync.Once
	stop    chan struct{}
}

// NewTickClock creates a stopped clock.
func NewTickClock() *TickClock {
	return &TickClock{
		ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Start emits a pulse every interval until Stop is called or ctx is done.
func (c *TickClock) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer close(c.ch)
		for {
			select {
			case <-ticker.C:
				c.total.Add(1)
				c.backlog.Add(1)
				select {
				case c.ch <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// C is signalled when at least one tick is waiting and closed once the
// clock stops.
func (c *TickClock) C() <-chan struct{} { return c.ch }

// Take returns the ticks that passed since the last call.
func (c *TickClock) Take() monotonic.Ticks {
	return monotonic.Ticks(c.backlog.Swap(0))
}

// Stop ends the pulse stream. Calling it more than once is fine.
func (c *TickClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Elapsed returns how many ticks the clock produced in total.
func (c *TickClock) Elapsed() uint64 {
	return c.total.Load()
}
