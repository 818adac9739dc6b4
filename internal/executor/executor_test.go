package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gate completes once opened, remembering the last waker it was given.
type gate struct {
	open  bool
	waker Waker
}

func (g *gate) Poll(w Waker) (int, bool) {
	if g.open {
		return 7, true
	}
	g.waker = w
	return 0, false
}

func TestExecutor_Lifecycle(t *testing.T) {
	var e Executor
	g := &gate{}
	wakes := 0
	w := WakerFunc(func() { wakes++; e.SetPending() })

	require.True(t, e.TryReserve())
	assert.False(t, e.TryReserve(), "occupied slot must reject")

	e.Spawn(Discard[int](g))
	assert.False(t, e.Poll(w))
	assert.True(t, e.IsRunning())

	g.waker.Wake()
	assert.Equal(t, 1, wakes)
	assert.True(t, e.TakePending())
	assert.False(t, e.IsPending())

	g.open = true
	assert.True(t, e.Poll(w))
	assert.False(t, e.IsRunning())
	assert.Equal(t, uint64(2), e.Polls())

	assert.False(t, e.Poll(w), "an empty slot has nothing to poll")
	assert.True(t, e.TryReserve(), "completion frees the slot")
}

func TestExecutor_SpawnWithoutReservePanics(t *testing.T) {
	var e Executor
	require.Panics(t, func() { e.Spawn(Ready(struct{}{})) })
}

func TestExecutor_SpawnNilPanicsAndFreesSlot(t *testing.T) {
	var e Executor
	require.True(t, e.TryReserve())
	require.PanicsWithValue(t, "executor: spawn of a nil future", func() { e.Spawn(nil) })
	assert.False(t, e.IsRunning())
	assert.True(t, e.TryReserve())
}

func TestThen(t *testing.T) {
	first := &gate{}
	f := Then[int, string](first, func(v int) Future[string] {
		return Map(Ready(v*2), func(n int) string { return "got " + string(rune('0'+n%10)) })
	})
	w := WakerFunc(func() {})

	_, ok := f.Poll(w)
	assert.False(t, ok)
	first.open = true
	v, ok := f.Poll(w)
	require.True(t, ok)
	assert.Equal(t, "got 4", v)
}
