// internal/hw/controller.go

package hw

import (
	"fmt"
	"math/bits"
)

// Line identifies an interrupt line (vector) on the controller.
type Line uint8

// MaxLines is the number of interrupt lines the controller models.
// Enable/disable masks are a single 64-bit word, like one ISER/ICER bank.
const MaxLines = 64

// Handler is the body run when an interrupt line is taken.
type Handler func()

type line struct {
	prio    uint8 // logical priority, 1 = lowest
	handler Handler
	enabled bool
	pending bool
}

// Controller models a single-core NVIC-style interrupt controller.
//
// Preemption is synchronous: whenever a line is pended, or masking is
// relaxed, every pending line that beats the running priority and the
// current mask is taken immediately on the caller's stack, highest
// priority first. Returning from a handler resumes the interrupted code,
// exactly like nested exception entry on hardware. A Controller must only
// ever be driven from one goroutine (the core).
type Controller struct {
	prioBits  uint8
	lines     [MaxLines]line
	basepri   uint8 // hardware-encoded, 0 = no masking
	threshold uint8 // logical PLIC-style threshold, 0 = no masking
	primask   bool
	active    []uint8 // priorities of the handlers currently on the stack
	taken     uint64
}

// NewController creates a controller supporting 1<<prioBits logical
// priority levels. Unsupported widths are a configuration bug and panic.
func NewController(prioBits uint8) *Controller {
	if prioBits == 0 || prioBits > 7 {
		panic(fmt.Sprintf("hw: unsupported priority width %d bits", prioBits))
	}
	return &Controller{
		prioBits: prioBits,
		active:   make([]uint8, 0, 1<<prioBits),
	}
}

// PrioBits returns the number of implemented priority bits.
func (c *Controller) PrioBits() uint8 { return c.prioBits }

// MaxPriority is the highest logical priority, 1<<PrioBits.
func (c *Controller) MaxPriority() uint8 { return 1 << c.prioBits }

// Logical2HW encodes a logical priority the way BASEPRI expects it:
// higher logical priority means a numerically lower register value.
func Logical2HW(logical, prioBits uint8) uint8 {
	return uint8((uint16(1)<<prioBits - uint16(logical)) << (8 - prioBits))
}

// HW2Logical decodes a BASEPRI value. Zero means "no masking".
func HW2Logical(hw, prioBits uint8) uint8 {
	if hw == 0 {
		return 0
	}
	return uint8(uint16(1)<<prioBits - uint16(hw>>(8-prioBits)))
}

// Configure binds a handler to a line at the given logical priority and
// enables it. Out-of-range lines or priorities panic.
func (c *Controller) Configure(l Line, prio uint8, h Handler) {
	if int(l) >= MaxLines {
		panic(fmt.Sprintf("hw: line %d out of range", l))
	}
	if prio == 0 || prio > c.MaxPriority() {
		panic(fmt.Sprintf("hw: priority %d unsupported with %d priority bits", prio, c.prioBits))
	}
	if h == nil {
		panic(fmt.Sprintf("hw: nil handler for line %d", l))
	}
	if c.lines[l].handler != nil {
		panic(fmt.Sprintf("hw: line %d already bound", l))
	}
	c.lines[l] = line{prio: prio, handler: h, enabled: true}
}

// Priority returns the logical priority of a configured line, 0 if unbound.
func (c *Controller) Priority(l Line) uint8 { return c.lines[l].prio }

// LinesAt returns the mask of configured lines with exactly this priority.
func (c *Controller) LinesAt(prio uint8) uint64 {
	var mask uint64
	for i := range c.lines {
		if c.lines[i].handler != nil && c.lines[i].prio == prio {
			mask |= 1 << i
		}
	}
	return mask
}

// Pend sets the pending bit of a line and takes it if it is allowed to
// preempt the current context.
func (c *Controller) Pend(l Line) {
	c.lines[l].pending = true
	c.preempt()
}

// Unpend clears the pending bit of a line.
func (c *Controller) Unpend(l Line) { c.lines[l].pending = false }

// IsPending reports the pending bit of a line.
func (c *Controller) IsPending(l Line) bool { return c.lines[l].pending }

// EnabledMask mirrors reading ISER.
func (c *Controller) EnabledMask() uint64 {
	var mask uint64
	for i := range c.lines {
		if c.lines[i].enabled {
			mask |= 1 << i
		}
	}
	return mask
}

// DisableMask mirrors writing ICER: every line set in mask is disabled.
func (c *Controller) DisableMask(mask uint64) {
	for mask != 0 {
		i := bits.TrailingZeros64(mask)
		c.lines[i].enabled = false
		mask &^= 1 << i
	}
}

// EnableMask mirrors writing ISER: every line set in mask is enabled.
func (c *Controller) EnableMask(mask uint64) {
	for mask != 0 {
		i := bits.TrailingZeros64(mask)
		c.lines[i].enabled = true
		mask &^= 1 << i
	}
	c.preempt()
}

// BasePri returns the raw BASEPRI register.
func (c *Controller) BasePri() uint8 { return c.basepri }

// SetBasePri writes the hardware-encoded BASEPRI register.
func (c *Controller) SetBasePri(v uint8) {
	lowered := v == 0 || (c.basepri != 0 && v > c.basepri)
	c.basepri = v
	if lowered {
		c.preempt()
	}
}

// Threshold returns the logical PLIC-style threshold.
func (c *Controller) Threshold() uint8 { return c.threshold }

// SetThreshold writes the logical threshold: lines at or below it are held.
func (c *Controller) SetThreshold(v uint8) {
	lowered := v < c.threshold
	c.threshold = v
	if lowered {
		c.preempt()
	}
}

// InterruptsEnabled reports whether PRIMASK is clear.
func (c *Controller) InterruptsEnabled() bool { return !c.primask }

// DisableInterrupts sets PRIMASK and reports whether interrupts were enabled.
func (c *Controller) DisableInterrupts() bool {
	was := !c.primask
	c.primask = true
	return was
}

// EnableInterrupts clears PRIMASK, taking anything that became runnable.
func (c *Controller) EnableInterrupts() {
	c.primask = false
	c.preempt()
}

// Free runs f inside a global critical section.
func (c *Controller) Free(f func()) {
	was := c.DisableInterrupts()
	f()
	if was {
		c.EnableInterrupts()
	}
}

// Running returns the priority of the handler currently executing, 0 in
// thread mode.
func (c *Controller) Running() uint8 {
	if len(c.active) == 0 {
		return 0
	}
	return c.active[len(c.active)-1]
}

// Depth returns the number of nested handlers on the stack.
func (c *Controller) Depth() int { return len(c.active) }

// Taken returns how many handler entries the controller has performed.
func (c *Controller) Taken() uint64 { return c.taken }

func (c *Controller) mask() uint8 {
	m := HW2Logical(c.basepri, c.prioBits)
	if c.threshold > m {
		m = c.threshold
	}
	return m
}

// next picks the highest-priority line allowed to preempt right now.
// Ties go to the lowest line number, as on the NVIC.
func (c *Controller) next() (Line, bool) {
	if c.primask {
		return 0, false
	}
	floor := c.Running()
	if m := c.mask(); m > floor {
		floor = m
	}
	best, found := Line(0), false
	for i := range c.lines {
		ln := &c.lines[i]
		if !ln.pending || !ln.enabled || ln.handler == nil || ln.prio <= floor {
			continue
		}
		if !found || ln.prio > c.lines[best].prio {
			best, found = Line(i), true
		}
	}
	return best, found
}

func (c *Controller) preempt() {
	for {
		l, ok := c.next()
		if !ok {
			return
		}
		ln := &c.lines[l]
		ln.pending = false
		c.active = append(c.active, ln.prio)
		c.taken++
		ln.handler()
		c.active = c.active[:len(c.active)-1]
	}
}
