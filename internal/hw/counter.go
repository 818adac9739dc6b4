// internal/hw/counter.go

package hw

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Counter models a free-running up-counter of configurable width with one
// compare channel. It raises three flags: overflow (wrap to zero),
// half-period (crossing the midpoint) and compare match. The overflow and
// half-period flags are always latched; the line is only pended for them
// once period interrupts are enabled. Compare only latches while enabled.
type Counter struct {
	ctrl *Controller
	line Line
	bits uint8
	mask uint64
	half uint64

	value   atomic.Uint64
	compare uint64

	compareIRQ bool
	periodIRQ  bool

	overflowFlag bool
	halfFlag     bool
	compareFlag  bool

	elapsed uint64
}

// NewCounter creates a counter of the given width bound to a line of ctrl.
// Widths outside 2..64 bits panic.
func NewCounter(ctrl *Controller, l Line, width uint8) *Counter {
	if width < 2 || width > 64 {
		panic(fmt.Sprintf("hw: unsupported counter width %d", width))
	}
	mask := uint64(math.MaxUint64)
	if width < 64 {
		mask = 1<<width - 1
	}
	return &Counter{
		ctrl: ctrl,
		line: l,
		bits: width,
		mask: mask,
		half: 1 << (width - 1),
	}
}

// Bits returns the counter width.
func (k *Counter) Bits() uint8 { return k.bits }

// Line returns the interrupt line the counter signals on.
func (k *Counter) Line() Line { return k.line }

// Raw reads the counter register. Safe from any goroutine.
func (k *Counter) Raw() uint64 { return k.value.Load() }

// Elapsed returns the total ticks advanced since reset, never wrapping.
func (k *Counter) Elapsed() uint64 { return k.elapsed }

// SetRaw forces the counter register, used to start a run near a wrap.
func (k *Counter) SetRaw(v uint64) { k.value.Store(v & k.mask) }

// SetCompare writes the compare register (truncated to the width).
func (k *Counter) SetCompare(v uint64) { k.compare = v & k.mask }

// Compare reads the compare register.
func (k *Counter) Compare() uint64 { return k.compare }

// EnableCompare turns on the compare interrupt.
func (k *Counter) EnableCompare() { k.compareIRQ = true }

// DisableCompare turns off the compare interrupt.
func (k *Counter) DisableCompare() { k.compareIRQ = false }

// CompareEnabled reports whether the compare interrupt is on.
func (k *Counter) CompareEnabled() bool { return k.compareIRQ }

// EnablePeriodInterrupts turns on the overflow and half-period interrupts.
func (k *Counter) EnablePeriodInterrupts() { k.periodIRQ = true }

// OverflowFlag reports the latched overflow flag.
func (k *Counter) OverflowFlag() bool { return k.overflowFlag }

// HalfFlag reports the latched half-period flag.
func (k *Counter) HalfFlag() bool { return k.halfFlag }

// CompareFlag reports the latched compare flag.
func (k *Counter) CompareFlag() bool { return k.compareFlag }

// ClearOverflowFlag clears the overflow flag.
func (k *Counter) ClearOverflowFlag() { k.overflowFlag = false }

// ClearHalfFlag clears the half-period flag.
func (k *Counter) ClearHalfFlag() { k.halfFlag = false }

// ClearCompareFlag clears the compare flag.
func (k *Counter) ClearCompareFlag() { k.compareFlag = false }

// Pend pends the counter's line in software.
func (k *Counter) Pend() { k.ctrl.Pend(k.line) }

// Advance moves the counter forward n ticks. Every flag event pends the
// line at the tick it happens, so handlers observe the counter exactly at
// the event before time moves on.
func (k *Counter) Advance(n uint64) {
	for n > 0 {
		step := k.distance(0)
		if d := k.distance(k.half); d < step {
			step = d
		}
		if k.compareIRQ {
			if d := k.distance(k.compare); d < step {
				step = d
			}
		}
		if step > n {
			k.value.Store((k.value.Load() + n) & k.mask)
			k.elapsed += n
			return
		}
		v := (k.value.Load() + step) & k.mask
		k.value.Store(v)
		k.elapsed += step
		n -= step

		raise := false
		if v == 0 {
			k.overflowFlag = true
			raise = raise || k.periodIRQ
		}
		if v == k.half {
			k.halfFlag = true
			raise = raise || k.periodIRQ
		}
		if k.compareIRQ && v == k.compare {
			k.compareFlag = true
			raise = true
		}
		if raise {
			k.ctrl.Pend(k.line)
		}
	}
}

// distance is the number of ticks until the counter next reads target.
func (k *Counter) distance(target uint64) uint64 {
	d := (target - k.value.Load()) & k.mask
	if d == 0 {
		if k.mask == math.MaxUint64 {
			return math.MaxUint64
		}
		return k.mask + 1
	}
	return d
}
