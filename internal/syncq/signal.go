// internal/syncq/signal.go

package syncq

import (
	"srprt/internal/ceiling"
	"srprt/internal/executor"
)

// Signal stores the latest value written to it. Any number of writers, one
// waiting reader; reading takes the value out.
type Signal[T any] struct {
	guard Guard
	waker WakerRegistration
	value T
	set   bool
}

// NewSignal returns an empty signal locked at ceiling c.
func NewSignal[T any](l *ceiling.Locker, c uint8) *Signal[T] {
	return &Signal[T]{guard: Ceiling(l, c)}
}

// Write replaces the stored value and wakes the reader.
func (s *Signal[T]) Write(v T) {
	var w executor.Waker
	s.guard(func() {
		s.value, s.set = v, true
		w = s.waker.Take()
	})
	wake(w)
}

// Clear drops the stored value, if any.
func (s *Signal[T]) Clear() {
	s.guard(func() {
		var zero T
		s.value, s.set = zero, false
	})
}

// TryTake takes the stored value without waiting.
func (s *Signal[T]) TryTake() (T, bool) {
	var (
		v  T
		ok bool
	)
	s.guard(func() { v, ok = s.takeLocked() })
	return v, ok
}

func (s *Signal[T]) takeLocked() (T, bool) {
	var zero T
	v, ok := s.value, s.set
	s.value, s.set = zero, false
	return v, ok
}

// Wait returns a future taking the next value. A value already stored
// completes it on the first poll.
func (s *Signal[T]) Wait() *SignalWait[T] {
	return &SignalWait[T]{s: s}
}

// WaitFresh is Wait ignoring whatever is stored when it is first polled.
func (s *Signal[T]) WaitFresh() *SignalWait[T] {
	return &SignalWait[T]{s: s, fresh: true}
}

// SignalWait is the future returned by Wait.
type SignalWait[T any] struct {
	s     *Signal[T]
	fresh bool
}

func (f *SignalWait[T]) Poll(w executor.Waker) (T, bool) {
	var (
		v  T
		ok bool
	)
	f.s.guard(func() {
		if f.fresh {
			f.fresh = false
			f.s.takeLocked()
		}
		if v, ok = f.s.takeLocked(); ok {
			f.s.waker.Clear()
			return
		}
		f.s.waker.Register(w)
	})
	return v, ok
}

// Cancel withdraws the reader, so a later write does not wake it.
func (f *SignalWait[T]) Cancel() {
	f.s.guard(f.s.waker.Clear)
}
