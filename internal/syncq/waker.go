// internal/syncq/waker.go

// Package syncq holds the wake sources async tasks suspend on besides the
// timer queue: a waker registration, a latest-value signal and a bounded
// channel. Every primitive keeps its state under a ceiling critical section
// at the highest priority that touches it, and only ever wakes a registered
// waker; polling stays with the waiter's own dispatcher.
package syncq

import (
	"srprt/internal/ceiling"
	"srprt/internal/executor"
)

// Guard runs f inside the critical section protecting a primitive.
type Guard func(f func())

// Ceiling returns the guard locking l at priority c. c must be at least the
// priority of every task using the primitive.
func Ceiling(l *ceiling.Locker, c uint8) Guard {
	return func(f func()) { l.Critical(c, f) }
}

// WakerRegistration holds the waker of a single waiter. A later
// registration replaces the earlier one. It is not synchronised on its own:
// callers hold their primitive's guard.
type WakerRegistration struct {
	w executor.Waker
}

// Register stores w as the waiter to wake.
func (r *WakerRegistration) Register(w executor.Waker) { r.w = w }

// Clear drops the registered waker without waking it.
func (r *WakerRegistration) Clear() { r.w = nil }

// Registered reports whether a waiter is registered.
func (r *WakerRegistration) Registered() bool { return r.w != nil }

// Take removes and returns the registered waker, nil if none. Take it under
// the guard and wake it after.
func (r *WakerRegistration) Take() executor.Waker {
	w := r.w
	r.w = nil
	return w
}

func wake(w executor.Waker) {
	if w != nil {
		w.Wake()
	}
}
