package sched

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusKind_String(t *testing.T) {
	assert.Equal(t, "Enqueued", StatusEnqueue.String())
	assert.Equal(t, "Stale", StatusStale.String())
	assert.Equal(t, "Unknown", StatusKind(99).String())
}

func TestEventLog(t *testing.T) {
	var out bytes.Buffer
	log := NewEventLog(&out)
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, log.EnableCSVLogging(path))

	rt := New(testConfig(TaskConfig{Name: "job", Priority: 1}), quiet(), WithObserver(log))
	id := rt.Task("job")
	rt.Bind("job", func(*Context, any) {})
	rt.Start(func(ctx *Context) { require.NoError(t, ctx.Trigger(id, nil)) })
	require.NoError(t, log.Close())

	assert.Equal(t, int64(1), log.Dispatched(id))
	assert.Contains(t, out.String(), "[    Dispatch    ] => Task: 0000 job")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus enqueue, dispatch, finish")
	assert.Equal(t, "event", rows[0][3])
	assert.Equal(t, []string{"Enqueued", "Dispatch", "Finish"}, []string{rows[1][3], rows[2][3], rows[3][3]})
	assert.Equal(t, rt.RunID().String(), rows[1][1])
}

func TestEventLog_CSVWriteFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	events := NewEventLog(nil)
	events.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, events.EnableCSVLogging(filepath.Join(t.TempDir(), "events.csv")))
	require.NoError(t, events.csvFile.Close())

	ev := StatusEvent{Time: time.Now(), Kind: StatusDispatch, Task: "job", Tick: 7}
	events.Observe(ev)
	events.Observe(ev)

	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("csv event log write failed")))
	assert.Contains(t, logs.String(), "tick=7")
	assert.Error(t, events.Close())
}

func TestRuntime_RunPacedByClock(t *testing.T) {
	idle := 0
	rt := New(testConfig(TaskConfig{Name: "job", Priority: 1}), quiet(),
		WithIdle(func(ctx *Context) {
			assert.Equal(t, uint8(0), ctx.Priority())
			idle++
		}))
	rt.Bind("job", func(*Context, any) {})

	clock := NewTickClock()
	assert.Error(t, rt.Run(context.Background(), clock, 5), "run before start")

	rt.Start(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Start(ctx, time.Millisecond)
	defer clock.Stop()

	require.NoError(t, rt.Run(ctx, clock, 5))
	assert.EqualValues(t, 5, rt.Now())
	assert.Equal(t, 5, idle)
}

func TestTickClock_Backlog(t *testing.T) {
	clock := NewTickClock()
	clock.Start(context.Background(), time.Millisecond)

	require.Eventually(t, func() bool { return clock.Elapsed() >= 3 }, 5*time.Second, time.Millisecond)
	clock.Stop()
	clock.Stop()

	// drained channel closes once the goroutine exits
	for range clock.C() {
	}
	assert.EqualValues(t, clock.Elapsed(), clock.Take(), "nothing taken yet, so the whole run is backlog")
	assert.Zero(t, clock.Take())
}
