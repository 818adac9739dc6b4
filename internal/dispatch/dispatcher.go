// internal/dispatch/dispatcher.go

package dispatch

// Runner executes one ready instance.
type Runner func(r Ready)

// Dispatcher is the interrupt handler body of one software priority level.
type Dispatcher struct {
	prio    uint8
	ready   *ReadyQueue
	run     Runner
	lock    func(func())
	pend    func()
	timer   func()
	claim   func(Ready)
	pollers []func()

	running bool
	drained uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLock sets the critical section guarding the ready queue, which is
// shared with producers at other priorities.
func WithLock(lock func(func())) Option {
	return func(d *Dispatcher) { d.lock = lock }
}

// WithTimer makes the level also service the monotonic interrupt. Timer
// work always runs before the ready queue is drained.
func WithTimer(f func()) Option {
	return func(d *Dispatcher) { d.timer = f }
}

// WithClaim runs f on each entry inside the same critical section that pops
// it, so the entry is never observed as neither ready nor running.
func WithClaim(f func(Ready)) Option {
	return func(d *Dispatcher) { d.claim = f }
}

// New creates a dispatcher for priority prio. pend must pend the level's
// interrupt line.
func New(prio uint8, ready *ReadyQueue, run Runner, pend func(), opts ...Option) *Dispatcher {
	d := &Dispatcher{
		prio:  prio,
		ready: ready,
		run:   run,
		lock:  func(f func()) { f() },
		pend:  pend,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Priority returns the level's priority.
func (d *Dispatcher) Priority() uint8 { return d.prio }

// Ready returns the level's ready queue.
func (d *Dispatcher) Ready() *ReadyQueue { return d.ready }

// Drained returns how many ready entries the level has run.
func (d *Dispatcher) Drained() uint64 { return d.drained }

// AddPoller registers a hook run after each drain, used by the executors of
// suspendable tasks at this level.
func (d *Dispatcher) AddPoller(f func()) { d.pollers = append(d.pollers, f) }

// Enqueue pushes r and pends the level. While the level is draining the
// pend is skipped: the running drain loop will pick r up. It reports false
// when the ready queue is full.
func (d *Dispatcher) Enqueue(r Ready) bool {
	var ok, pend bool
	d.lock(func() {
		ok = d.ready.Push(r)
		pend = ok && !d.running
	})
	if pend {
		d.pend()
	}
	return ok
}

// Pend requests a pass of the handler without queueing anything.
func (d *Dispatcher) Pend() { d.pend() }

// Handle is the interrupt handler body.
func (d *Dispatcher) Handle() {
	if d.timer != nil {
		d.timer()
	}

	d.lock(func() { d.running = true })
	for {
		var (
			r  Ready
			ok bool
		)
		d.lock(func() {
			r, ok = d.ready.Pop()
			switch {
			case !ok:
				d.running = false
			case d.claim != nil:
				d.claim(r)
			}
		})
		if !ok {
			break
		}
		d.drained++
		d.run(r)
	}

	for _, poll := range d.pollers {
		poll()
	}
}
