package ceiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srprt/internal/hw"
)

type bench struct {
	ctrl   *hw.Controller
	tok    *Token
	locker *Locker
}

func newBench(t *testing.T, kind Kind, lines map[hw.Line]uint8, handlers map[hw.Line]func()) *bench {
	t.Helper()
	b := &bench{ctrl: hw.NewController(3), tok: &Token{}}
	for l, p := range lines {
		h, p := handlers[l], p
		b.ctrl.Configure(l, p, func() { b.tok.Run(p, h) })
	}
	b.locker = NewLocker(b.tok, NewStrategy(kind, b.ctrl))
	return b
}

func TestLock_CeilingSafety(t *testing.T) {
	for _, kind := range []Kind{KindBasePri, KindThreshold, KindLineMask} {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			res := NewResource("shared", 2, 0)
			holders := 0
			var trace []string
			var b *bench

			enter := func(who string) func(v *int) {
				return func(v *int) {
					holders++
					assert.Equal(t, 1, holders, "%s observed a second holder", who)
					*v++
					trace = append(trace, who)
					holders--
				}
			}

			b = newBench(t, kind,
				map[hw.Line]uint8{1: 1, 2: 2, 3: 3},
				map[hw.Line]func(){
					1: func() {
						LockFunc(b.locker, res, func(v *int) {
							holders++
							before := *v
							// a competitor and a task above the ceiling both arrive now
							b.ctrl.Pend(2)
							b.ctrl.Pend(3)
							assert.Equal(t, before, *v, "competitor ran inside the critical section")
							assert.Equal(t, []string{"high"}, trace)
							*v++
							trace = append(trace, "low")
							holders--
						})
					},
					2: func() { LockFunc(b.locker, res, enter("mid")) },
					3: func() { trace = append(trace, "high") },
				})

			b.ctrl.Pend(1)
			assert.Equal(t, []string{"high", "low", "mid"}, trace)
			assert.Equal(t, 2, Lock(b.locker, res, func(v *int) int { return *v }))
			assert.Equal(t, uint8(0), b.tok.Priority())
			assert.Equal(t, uint8(0), b.ctrl.BasePri())
			assert.Equal(t, uint8(0), b.ctrl.Threshold())
			assert.Equal(t, uint64(0b1110), b.ctrl.EnabledMask())
		})
	}
}

func TestLock_AtCeilingDoesNotMask(t *testing.T) {
	b := newBench(t, KindBasePri, nil, nil)
	res := NewResource("local", 3, "x")

	b.tok.Run(3, func() {
		Lock(b.locker, res, func(s *string) struct{} {
			assert.Equal(t, uint8(0), b.ctrl.BasePri())
			assert.Equal(t, uint8(3), b.tok.Priority())
			return struct{}{}
		})
	})
}

func TestLock_MaxCeilingUsesCriticalSection(t *testing.T) {
	for _, kind := range []Kind{KindBasePri, KindThreshold, KindLineMask} {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			ran := false
			b := newBench(t, kind, map[hw.Line]uint8{4: 8}, map[hw.Line]func(){4: func() { ran = true }})
			res := NewResource("top", 8, 0)

			LockFunc(b.locker, res, func(v *int) {
				assert.False(t, b.ctrl.InterruptsEnabled())
				assert.Equal(t, uint8(8), b.tok.Priority())
				b.ctrl.Pend(4)
				assert.False(t, ran)
			})
			assert.True(t, ran)
			assert.True(t, b.ctrl.InterruptsEnabled())
		})
	}
}

func TestLock_NestedRestoresOuterMask(t *testing.T) {
	b := newBench(t, KindBasePri, nil, nil)
	outer := NewResource("outer", 2, 0)
	inner := NewResource("inner", 5, 0)

	LockFunc(b.locker, outer, func(*int) {
		assert.Equal(t, hw.Logical2HW(2, 3), b.ctrl.BasePri())
		LockFunc(b.locker, inner, func(*int) {
			assert.Equal(t, hw.Logical2HW(5, 3), b.ctrl.BasePri())
		})
		assert.Equal(t, hw.Logical2HW(2, 3), b.ctrl.BasePri())
		assert.Equal(t, uint8(2), b.tok.Priority())
	})
	assert.Equal(t, uint8(0), b.ctrl.BasePri())
}

func TestLock_AboveCeilingPanics(t *testing.T) {
	b := newBench(t, KindBasePri, nil, nil)
	res := NewResource("low", 1, 0)
	b.tok.Run(2, func() {
		require.Panics(t, func() { LockFunc(b.locker, res, func(*int) {}) })
	})
}

func TestLineMask_OverApproximates(t *testing.T) {
	ctrl := hw.NewController(3)
	noop := func() {}
	ctrl.Configure(1, 2, noop)
	ctrl.Configure(2, 2, noop) // unrelated line at a priority inside the window
	ctrl.Configure(3, 3, noop)
	ctrl.Configure(4, 4, noop)
	m := NewLineMask(ctrl)

	assert.Equal(t, uint64(0b01110), m.Mask(1, 3))
	assert.Equal(t, uint64(0b01000), m.Mask(2, 3))
	assert.Zero(t, m.Mask(3, 3))
}

func TestNewStrategy_Unknown(t *testing.T) {
	require.Panics(t, func() { NewStrategy("nvic9000", hw.NewController(3)) })
}
