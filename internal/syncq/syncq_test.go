package syncq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srprt/internal/ceiling"
	"srprt/internal/executor"
	"srprt/internal/hw"
)

type bench struct {
	ctrl   *hw.Controller
	tok    *ceiling.Token
	locker *ceiling.Locker
}

func newBench() *bench {
	return &bench{ctrl: hw.NewController(3), tok: &ceiling.Token{}}
}

func (b *bench) line(l hw.Line, p uint8, h func()) {
	b.ctrl.Configure(l, p, func() { b.tok.Run(p, h) })
}

// build creates the locker once every line is configured.
func (b *bench) build() {
	b.locker = ceiling.NewLocker(b.tok, ceiling.NewStrategy(ceiling.KindBasePri, b.ctrl))
}

// waiter is a suspendable task on its own line: its future is polled only
// from that line's handler, and only after its waker ran.
type waiter[T any] struct {
	b       *bench
	line    hw.Line
	f       executor.Future[T]
	pending bool
	polls   int
	wakes   int
	done    bool
	got     T
}

func (w *waiter[T]) waker() executor.Waker {
	return executor.WakerFunc(func() {
		w.wakes++
		w.pending = true
		w.b.ctrl.Pend(w.line)
	})
}

func (w *waiter[T]) handle() {
	if !w.pending || w.done {
		return
	}
	w.pending = false
	w.polls++
	w.got, w.done = w.f.Poll(w.waker())
}

func (w *waiter[T]) start() {
	w.pending = true
	w.b.ctrl.Pend(w.line)
}

func TestChannel_ReceiverWokenOnlyByItsWaker(t *testing.T) {
	b := newBench()
	var (
		ch    *Channel[int]
		trace []string
	)
	rx := &waiter[executor.Result[int]]{b: b, line: 1}
	b.line(1, 1, func() {
		rx.handle()
		if rx.done {
			trace = append(trace, "recv")
		}
	})
	b.line(3, 3, func() {
		require.NoError(t, ch.TrySend(7))
		trace = append(trace, "send")
	})
	b.build()
	ch = NewChannel[int](b.locker, 3, 2)
	rx.f = ch.Recv()

	rx.start()
	assert.False(t, rx.done)
	assert.Equal(t, 1, rx.polls)

	// activity that does not touch the channel must not poll the receiver
	b.ctrl.Pend(1)
	assert.Equal(t, 1, rx.polls)
	assert.Zero(t, rx.wakes)

	b.ctrl.Pend(3)
	assert.Equal(t, []string{"send", "recv"}, trace, "the receiver runs after the sender returns")
	assert.Equal(t, 1, rx.wakes)
	assert.Equal(t, 2, rx.polls)
	assert.Equal(t, executor.Result[int]{Value: 7}, rx.got)
	assert.Zero(t, ch.Len())
}

func TestChannel_FullReturnsValue(t *testing.T) {
	b := newBench()
	b.build()
	ch := NewChannel[string](b.locker, 2, 1)

	require.NoError(t, ch.TrySend("first"))
	err := ch.TrySend("second")
	require.ErrorIs(t, err, ErrFull)
	var se *SendError[string]
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "second", se.Value)

	v, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	_, err = ch.TryRecv()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestChannel_SendWaitsForRoom(t *testing.T) {
	b := newBench()
	var ch *Channel[int]
	tx := &waiter[executor.Result[struct{}]]{b: b, line: 1}
	b.line(1, 1, tx.handle)
	b.build()
	ch = NewChannel[int](b.locker, 1, 1)
	require.NoError(t, ch.TrySend(1))

	tx.f = ch.Send(2)
	tx.start()
	assert.False(t, tx.done, "no room yet")

	v, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, tx.done, "taking a value wakes the waiting sender")
	assert.NoError(t, tx.got.Err)
	assert.Equal(t, 1, ch.Len())
}

func TestChannel_Close(t *testing.T) {
	b := newBench()
	var ch *Channel[int]
	rx := &waiter[executor.Result[int]]{b: b, line: 1}
	b.line(1, 1, rx.handle)
	b.build()
	ch = NewChannel[int](b.locker, 1, 2)

	require.NoError(t, ch.TrySend(5))
	ch.Close()
	assert.True(t, ch.Closed())
	err := ch.TrySend(6)
	require.ErrorIs(t, err, ErrClosed)

	v, err := ch.TryRecv()
	require.NoError(t, err, "queued values survive the close")
	assert.Equal(t, 5, v)

	rx.f = ch.Recv()
	rx.start()
	require.True(t, rx.done)
	assert.ErrorIs(t, rx.got.Err, ErrClosed)
}

func TestChannel_CloseWakesReceiver(t *testing.T) {
	b := newBench()
	var ch *Channel[int]
	rx := &waiter[executor.Result[int]]{b: b, line: 1}
	b.line(1, 1, rx.handle)
	b.build()
	ch = NewChannel[int](b.locker, 1, 1)

	rx.f = ch.Recv()
	rx.start()
	require.False(t, rx.done)
	ch.Close()
	require.True(t, rx.done)
	assert.ErrorIs(t, rx.got.Err, ErrClosed)
}

func TestSignal(t *testing.T) {
	b := newBench()
	var sig *Signal[int]
	rx := &waiter[int]{b: b, line: 1}
	b.line(1, 1, rx.handle)
	b.line(2, 2, func() { sig.Write(42) })
	b.build()
	sig = NewSignal[int](b.locker, 2)

	t.Run("latest value wins", func(t *testing.T) {
		sig.Write(1)
		sig.Write(2)
		v, ok := sig.TryTake()
		require.True(t, ok)
		assert.Equal(t, 2, v)
		_, ok = sig.TryTake()
		assert.False(t, ok, "reading takes the value")
	})

	t.Run("wait fresh skips a stale value", func(t *testing.T) {
		sig.Write(9)
		rx.f = sig.WaitFresh()
		rx.start()
		require.False(t, rx.done)

		b.ctrl.Pend(2)
		require.True(t, rx.done)
		assert.Equal(t, 42, rx.got)
		assert.Equal(t, 2, rx.polls)
	})

	t.Run("cancelled reader is not woken", func(t *testing.T) {
		rx.done, rx.polls, rx.wakes = false, 0, 0
		w := sig.Wait()
		rx.f = w
		rx.start()
		require.False(t, rx.done)

		w.Cancel()
		sig.Write(3)
		assert.Zero(t, rx.wakes)
		assert.Equal(t, 1, rx.polls)
	})
}

func TestSignal_AboveCeilingPanics(t *testing.T) {
	b := newBench()
	var sig *Signal[int]
	b.line(3, 3, func() { sig.Write(1) })
	b.build()
	sig = NewSignal[int](b.locker, 2)
	assert.Panics(t, func() { b.ctrl.Pend(3) })
}

func TestNewChannel_ZeroCapacityPanics(t *testing.T) {
	b := newBench()
	b.build()
	assert.Panics(t, func() { NewChannel[int](b.locker, 1, 0) })
}
