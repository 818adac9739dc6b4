// internal/monotonic/backend.go

// Package monotonic turns a hardware counter into an ever-increasing clock
// with a single programmable wake-up.
package monotonic

import (
	"fmt"

	"srprt/internal/hw"
)

// Ticks is an instant or a duration on the monotonic clock.
type Ticks = uint64

// Backend is the hardware side of a timer queue.
type Backend interface {
	// Now returns the current instant. It never goes backwards.
	Now() Ticks
	// SetCompare arms the wake-up for instant. It returns false when the
	// instant has already elapsed; the caller must then dispatch directly
	// since no compare event will ever come.
	SetCompare(instant Ticks) bool
	// ClearCompareFlag acknowledges the compare event.
	ClearCompareFlag()
	// PendInterrupt pends the backend's interrupt in software.
	PendInterrupt()
	// OnInterrupt does the backend's own bookkeeping on each interrupt.
	OnInterrupt()
	// EnableTimer and DisableTimer gate the compare interrupt.
	EnableTimer()
	DisableTimer()
}

// Kind names a backend in configuration.
type Kind string

const (
	KindWide       Kind = "wide"
	KindHalfPeriod Kind = "half_period"
)

// New builds a backend of the given kind on counter k.
func New(kind Kind, k *hw.Counter) Backend {
	switch kind {
	case KindWide:
		return NewWide(k)
	case KindHalfPeriod:
		return NewHalfPeriod(k)
	default:
		panic(fmt.Sprintf("monotonic: unknown backend %q", kind))
	}
}

// Wide uses a 64-bit hardware counter as the clock directly.
type Wide struct {
	k *hw.Counter
}

// NewWide wraps a 64-bit counter. Narrower counters need HalfPeriod.
func NewWide(k *hw.Counter) *Wide {
	if k.Bits() != 64 {
		panic(fmt.Sprintf("monotonic: wide backend needs a 64-bit counter, got %d bits", k.Bits()))
	}
	return &Wide{k: k}
}

func (w *Wide) Now() Ticks { return w.k.Raw() }

func (w *Wide) SetCompare(instant Ticks) bool {
	if instant <= w.Now() {
		return false
	}
	w.k.SetCompare(instant)
	return true
}

func (w *Wide) ClearCompareFlag() { w.k.ClearCompareFlag() }
func (w *Wide) PendInterrupt()    { w.k.Pend() }
func (w *Wide) OnInterrupt()      {}
func (w *Wide) EnableTimer()      { w.k.EnableCompare() }
func (w *Wide) DisableTimer()     { w.k.DisableCompare() }
