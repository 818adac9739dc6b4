// internal/syncq/channel.go

package syncq

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"srprt/internal/ceiling"
	"srprt/internal/executor"
)

var (
	ErrFull   = errors.New("syncq: channel full")
	ErrEmpty  = errors.New("syncq: channel empty")
	ErrClosed = errors.New("syncq: channel closed")
)

// SendError hands a value the channel could not take back to the sender.
type SendError[T any] struct {
	Value T
	Err   error
}

func (e *SendError[T]) Error() string { return fmt.Sprintf("send %v: %v", e.Value, e.Err) }

func (e *SendError[T]) Unwrap() error { return e.Err }

// Channel is a bounded FIFO from senders to one receiver. At most one
// sender and one receiver wait on it at a time. Closing it lets the
// receiver drain what is queued, then report ErrClosed.
type Channel[T any] struct {
	guard  Guard
	buf    *circularbuffer.Queue
	cap    int
	recv   WakerRegistration
	send   WakerRegistration
	closed bool
}

// NewChannel returns an empty channel of n slots locked at ceiling c.
func NewChannel[T any](l *ceiling.Locker, c uint8, n int) *Channel[T] {
	if n <= 0 {
		panic(fmt.Sprintf("syncq: capacity must be positive, got %d", n))
	}
	return &Channel[T]{guard: Ceiling(l, c), buf: circularbuffer.New(n), cap: n}
}

// Cap returns the number of slots.
func (ch *Channel[T]) Cap() int { return ch.cap }

// Len returns the number of queued values.
func (ch *Channel[T]) Len() int {
	var n int
	ch.guard(func() { n = ch.buf.Size() })
	return n
}

// Closed reports whether Close was called.
func (ch *Channel[T]) Closed() bool {
	var c bool
	ch.guard(func() { c = ch.closed })
	return c
}

// TrySend queues v. On a full or closed channel v comes back in a
// *SendError wrapping ErrFull or ErrClosed.
func (ch *Channel[T]) TrySend(v T) error {
	var (
		err error
		w   executor.Waker
	)
	ch.guard(func() { w, err = ch.sendLocked(v) })
	wake(w)
	if err != nil {
		return &SendError[T]{Value: v, Err: err}
	}
	return nil
}

func (ch *Channel[T]) sendLocked(v T) (executor.Waker, error) {
	switch {
	case ch.closed:
		return nil, ErrClosed
	case ch.buf.Full():
		return nil, ErrFull
	}
	ch.buf.Enqueue(v)
	return ch.recv.Take(), nil
}

// Send returns a future queueing v, waiting for room while the channel is
// full. Its result carries a *SendError when the channel closes first.
func (ch *Channel[T]) Send(v T) *SendFuture[T] {
	return &SendFuture[T]{ch: ch, v: v}
}

// SendFuture is the future returned by Send.
type SendFuture[T any] struct {
	ch *Channel[T]
	v  T
}

func (f *SendFuture[T]) Poll(w executor.Waker) (executor.Result[struct{}], bool) {
	var (
		err    error
		wakeup executor.Waker
	)
	f.ch.guard(func() {
		wakeup, err = f.ch.sendLocked(f.v)
		if err == ErrFull {
			f.ch.send.Register(w)
			return
		}
		f.ch.send.Clear()
	})
	if err == ErrFull {
		return executor.Result[struct{}]{}, false
	}
	wake(wakeup)
	if err != nil {
		return executor.Result[struct{}]{Err: &SendError[T]{Value: f.v, Err: err}}, true
	}
	return executor.Result[struct{}]{}, true
}

// Cancel withdraws the waiting sender.
func (f *SendFuture[T]) Cancel() { f.ch.guard(f.ch.send.Clear) }

// TryRecv takes the oldest value. It fails with ErrEmpty, or with ErrClosed
// once the channel is closed and drained.
func (ch *Channel[T]) TryRecv() (T, error) {
	var (
		v   T
		err error
		w   executor.Waker
	)
	ch.guard(func() { v, w, err = ch.recvLocked() })
	wake(w)
	return v, err
}

func (ch *Channel[T]) recvLocked() (T, executor.Waker, error) {
	var zero T
	item, ok := ch.buf.Dequeue()
	if !ok {
		if ch.closed {
			return zero, nil, ErrClosed
		}
		return zero, nil, ErrEmpty
	}
	return item.(T), ch.send.Take(), nil
}

// Recv returns a future taking the oldest value, waiting while the channel
// is empty. Its result carries ErrClosed once the channel is closed and
// drained.
func (ch *Channel[T]) Recv() *RecvFuture[T] {
	return &RecvFuture[T]{ch: ch}
}

// RecvFuture is the future returned by Recv.
type RecvFuture[T any] struct {
	ch *Channel[T]
}

func (f *RecvFuture[T]) Poll(w executor.Waker) (executor.Result[T], bool) {
	var (
		v      T
		err    error
		wakeup executor.Waker
	)
	f.ch.guard(func() {
		v, wakeup, err = f.ch.recvLocked()
		if err == ErrEmpty {
			f.ch.recv.Register(w)
			return
		}
		f.ch.recv.Clear()
	})
	if err == ErrEmpty {
		return executor.Result[T]{}, false
	}
	wake(wakeup)
	return executor.Result[T]{Value: v, Err: err}, true
}

// Cancel withdraws the waiting receiver.
func (f *RecvFuture[T]) Cancel() { f.ch.guard(f.ch.recv.Clear) }

// Close stops further sends and wakes both waiters so they see it.
func (ch *Channel[T]) Close() {
	var r, s executor.Waker
	ch.guard(func() {
		ch.closed = true
		r, s = ch.recv.Take(), ch.send.Take()
	})
	wake(r)
	wake(s)
}
