package metrics

import (
	"io"
	"log/slog"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srprt/internal/sched"
)

func newRuntime(t *testing.T, c *Collector) *sched.Runtime {
	t.Helper()
	cfg := sched.DefaultConfig()
	cfg.Tasks = []sched.TaskConfig{{Name: "worker", Priority: 2, Capacity: 1}}
	rt := sched.New(cfg,
		sched.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sched.WithObserver(c),
	)
	rt.Bind("worker", func(*sched.Context, any) {})
	return rt
}

func TestCollector_CountsEvents(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := New(reg, Options{})
	require.NoError(t, err)

	rt := newRuntime(t, c)
	id := rt.Task("worker")
	rt.Start(func(ctx *sched.Context) {
		require.NoError(t, ctx.Trigger(id, 1))
		require.Error(t, ctx.Trigger(id, 2))
	})
	_, err = rt.ScheduleAfter(id, 30, 3)
	require.NoError(t, err)
	rt.Advance(40)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("worker", "2", "Dispatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("worker", "2", "Fire")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejectedTotal.WithLabelValues("worker")))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.lastTick), "last event is the finish at tick 30")
	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatchLatency))
	assert.Empty(t, c.enqueued, "every enqueue was matched by a dispatch")
}

func TestCollector_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := New(reg, Options{Namespace: "x"})
	require.NoError(t, err)
	second, err := New(reg, Options{Namespace: "x"})
	require.NoError(t, err)

	ev := sched.StatusEvent{Kind: sched.StatusReject, Task: "t", Slot: -1}
	first.Observe(ev)
	second.Observe(ev)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.rejectedTotal.WithLabelValues("t")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() { c.Observe(sched.StatusEvent{}) })
}
