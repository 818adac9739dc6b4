// internal/ceiling/strategy.go

package ceiling

import (
	"fmt"

	"srprt/internal/hw"
)

// State is what a Strategy needs to undo a Raise.
type State struct {
	critical bool
	primask  bool // interrupts were enabled before the critical section
	basepri  uint8
	thresh   uint8
	mask     uint64
}

// Strategy is the hardware masking capability behind Lock. Exactly one
// implementation is chosen per build from the target's interrupt
// controller; none of them ever block.
type Strategy interface {
	// Raise defers every interrupt whose priority is in (current, ceiling].
	Raise(current, ceiling uint8) State
	// Restore undoes a Raise.
	Restore(State)
}

// Kind names a masking strategy in configuration.
type Kind string

const (
	KindBasePri   Kind = "basepri"
	KindThreshold Kind = "threshold"
	KindLineMask  Kind = "linemask"
)

// NewStrategy builds the strategy of the given kind over ctrl. LineMask
// derives its masks from the lines configured on ctrl at this point, so it
// must be built after every handler has been bound.
func NewStrategy(kind Kind, ctrl *hw.Controller) Strategy {
	switch kind {
	case KindBasePri:
		return &BasePri{ctrl: ctrl}
	case KindThreshold:
		return &Threshold{ctrl: ctrl}
	case KindLineMask:
		return NewLineMask(ctrl)
	default:
		panic(fmt.Sprintf("ceiling: unknown strategy %q", kind))
	}
}

func enterCritical(ctrl *hw.Controller) State {
	return State{critical: true, primask: ctrl.DisableInterrupts()}
}

func exitCritical(ctrl *hw.Controller, s State) {
	if s.primask {
		ctrl.EnableInterrupts()
	}
}

// BasePri uses a numeric priority threshold register (ARMv7-M BASEPRI):
// anything at or below the written priority is held, anything above it may
// still preempt.
type BasePri struct {
	ctrl *hw.Controller
}

func (b *BasePri) Raise(_, ceiling uint8) State {
	if ceiling >= b.ctrl.MaxPriority() {
		return enterCritical(b.ctrl)
	}
	s := State{basepri: b.ctrl.BasePri()}
	b.ctrl.SetBasePri(hw.Logical2HW(ceiling, b.ctrl.PrioBits()))
	return s
}

func (b *BasePri) Restore(s State) {
	if s.critical {
		exitCritical(b.ctrl, s)
		return
	}
	b.ctrl.SetBasePri(s.basepri)
}

// Threshold is the PLIC flavour of BasePri: the register holds the logical
// priority directly.
type Threshold struct {
	ctrl *hw.Controller
}

func (t *Threshold) Raise(_, ceiling uint8) State {
	if ceiling >= t.ctrl.MaxPriority() {
		return enterCritical(t.ctrl)
	}
	s := State{thresh: t.ctrl.Threshold()}
	t.ctrl.SetThreshold(ceiling)
	return s
}

func (t *Threshold) Restore(s State) {
	if s.critical {
		exitCritical(t.ctrl, s)
		return
	}
	t.ctrl.SetThreshold(s.thresh)
}

// LineMask is for controllers without a threshold register (ARMv6-M). It
// disables the individual lines whose priority lies in (current, ceiling].
//
// The mask is per priority, not per resource user: every line in the
// window is deferred, including lines that never touch the resource. This
// over-approximation is inherent to the strategy and is not narrowed.
type LineMask struct {
	ctrl  *hw.Controller
	masks []uint64 // masks[p] = lines configured at priority p
}

// NewLineMask snapshots the per-priority line masks of ctrl.
func NewLineMask(ctrl *hw.Controller) *LineMask {
	masks := make([]uint64, int(ctrl.MaxPriority())+1)
	for p := 1; p < len(masks); p++ {
		masks[p] = ctrl.LinesAt(uint8(p))
	}
	return &LineMask{ctrl: ctrl, masks: masks}
}

// Mask returns the lines deferred by a lock from current up to ceiling.
func (m *LineMask) Mask(current, ceiling uint8) uint64 {
	var res uint64
	for p := int(current) + 1; p <= int(ceiling) && p < len(m.masks); p++ {
		res |= m.masks[p]
	}
	return res
}

func (m *LineMask) Raise(current, ceiling uint8) State {
	if ceiling >= m.ctrl.MaxPriority() {
		return enterCritical(m.ctrl)
	}
	// only lines that are enabled now get re-enabled on restore
	mask := m.Mask(current, ceiling) & m.ctrl.EnabledMask()
	m.ctrl.DisableMask(mask)
	return State{mask: mask}
}

func (m *LineMask) Restore(s State) {
	if s.critical {
		exitCritical(m.ctrl, s)
		return
	}
	m.ctrl.EnableMask(s.mask)
}
