// internal/monotonic/halfperiod.go

package monotonic

import (
	"fmt"
	"sync/atomic"

	"srprt/internal/hw"
)

// CalculateNow extends a narrow counter reading to the full clock.
//
// periods counts half-period events: it is incremented at the counter
// midpoint and again at the overflow. It must be loaded before raw. If the
// counter has wrapped but the overflow interrupt has not run yet, periods is
// odd and raw is below the midpoint; the XOR below adds the missing half
// period, so the result is still correct without any extra read.
//
//	(periods, raw) => now, 8-bit counter
//	(0, 126) => 126    (1, 126) => 382
//	(1, 128) => 128    (2, 128) => 384
func CalculateNow(periods, raw uint64, bits uint8) Ticks {
	upper := periods << (bits - 1)
	lowerHalf := (uint64(1) << (bits - 1)) & upper
	return upper + (lowerHalf ^ raw)
}

// HalfPeriod extends a narrow counter by counting overflow and half-period
// interrupts. Both must be serviced within half a counter period.
type HalfPeriod struct {
	k       *hw.Counter
	bits    uint8
	periods atomic.Uint64
	last    atomic.Uint64
}

// NewHalfPeriod wraps a counter of 2 to 32 bits and enables its period
// interrupts.
func NewHalfPeriod(k *hw.Counter) *HalfPeriod {
	if k.Bits() > 32 {
		panic(fmt.Sprintf("monotonic: half-period backend supports up to 32-bit counters, got %d", k.Bits()))
	}
	k.EnablePeriodInterrupts()
	return &HalfPeriod{k: k, bits: k.Bits()}
}

// Periods returns the half-period count.
func (h *HalfPeriod) Periods() uint64 { return h.periods.Load() }

func (h *HalfPeriod) Now() Ticks {
	var now Ticks
	for {
		p := h.periods.Load()
		raw := h.k.Raw()
		// an interrupt between the two loads leaves p stale; read again
		if h.periods.Load() == p {
			now = CalculateNow(p, raw, h.bits)
			break
		}
	}
	for {
		last := h.last.Load()
		if now <= last {
			return last
		}
		if h.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (h *HalfPeriod) SetCompare(instant Ticks) bool {
	now := h.Now()
	if instant <= now {
		return false
	}
	mask := uint64(1)<<h.bits - 1
	if instant-now <= mask {
		h.k.SetCompare(instant)
	} else {
		// too far for the register; the next half-period interrupt
		// re-evaluates the deadline long before this would match
		h.k.SetCompare(h.k.Raw() - 1)
	}
	return true
}

// OnInterrupt accounts for overflow and half-period events. The parity of
// the period count says which event must come next; any other event means
// one was missed, which corrupts the clock and panics.
func (h *HalfPeriod) OnInterrupt() {
	for {
		p := h.periods.Load()
		switch {
		case p%2 == 0 && h.k.HalfFlag():
			h.k.ClearHalfFlag()
			h.periods.Add(1)
		case p%2 == 1 && h.k.OverflowFlag():
			h.k.ClearOverflowFlag()
			h.periods.Add(1)
		case h.k.HalfFlag() || h.k.OverflowFlag():
			panic(fmt.Sprintf("monotonic: missed half-period event (periods=%d)", p))
		default:
			return
		}
	}
}

func (h *HalfPeriod) ClearCompareFlag() { h.k.ClearCompareFlag() }
func (h *HalfPeriod) PendInterrupt()    { h.k.Pend() }
func (h *HalfPeriod) EnableTimer()      { h.k.EnableCompare() }
func (h *HalfPeriod) DisableTimer()     { h.k.DisableCompare() }
