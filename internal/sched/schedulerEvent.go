// internal/sched/schedulerEvent.go

package sched

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"srprt/internal/monotonic"
)

// StatusKind represents the type of runtime event
type StatusKind int

const (
	StatusEnqueue StatusKind = iota
	StatusReject
	StatusDispatch
	StatusSuspend
	StatusFinish
	StatusSchedule
	StatusFire
	StatusCancel
	StatusStale
)

// StatusEvent is emitted on every state change of a task instance.
type StatusEvent struct {
	Time     time.Time
	RunID    uuid.UUID
	Kind     StatusKind
	TaskID   TaskID
	Task     string
	Priority uint8
	Slot     int // -1 when no slot was involved
	Tick     monotonic.Ticks
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusEnqueue:
		return "Enqueued"
	case StatusReject:
		return "Rejected"
	case StatusDispatch:
		return "Dispatch"
	case StatusSuspend:
		return "Suspend"
	case StatusFinish:
		return "Finish"
	case StatusSchedule:
		return "Scheduled"
	case StatusFire:
		return "Fire"
	case StatusCancel:
		return "Cancel"
	case StatusStale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// Observer receives status events synchronously, from whatever priority
// level produced them. It must not block.
type Observer interface {
	Observe(ev StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StatusEvent)

func (f ObserverFunc) Observe(ev StatusEvent) { f(ev) }

// MultiObserver fans an event out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(ev StatusEvent) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// EventLog prints events as console lines and optionally as CSV rows.
type EventLog struct {
	mu         sync.Mutex
	out        io.Writer
	dispatched map[TaskID]int64

	csvFile   *os.File
	csvWriter *csv.Writer
	csvFailed bool

	log *slog.Logger
}

// NewEventLog writes console lines to out; nil discards them.
func NewEventLog(out io.Writer) *EventLog {
	if out == nil {
		out = io.Discard
	}
	return &EventLog{out: out, dispatched: make(map[TaskID]int64), log: slog.Default()}
}

// SetLogger sets where sink failures are reported.
func (l *EventLog) SetLogger(log *slog.Logger) { l.log = log }

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before the runtime starts.
func (l *EventLog) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv log: %w", err)
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "run_id", "tick", "event", "task_id", "task", "priority", "slot"}); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()
	l.csvFile = f
	l.csvWriter = w
	return nil
}

// Dispatched returns how many times the task was dispatched so far.
func (l *EventLog) Dispatched(id TaskID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dispatched[id]
}

func (l *EventLog) Observe(ev StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Kind == StatusDispatch {
		l.dispatched[ev.TaskID]++
	}

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := int(float64(width-len(str)) / 2)
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	fmt.Fprintf(l.out, "%s = Tick: %07d [%s] => Task: %04d %-12s prio=%d slot=%2d dispatched=%04d\n",
		ev.Time.Format("Jan 02 15:04:05.000"),
		ev.Tick,
		center(ev.Kind.String(), 16),
		ev.TaskID,
		ev.Task,
		ev.Priority,
		ev.Slot,
		l.dispatched[ev.TaskID],
	)

	// CSV output
	if l.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			ev.RunID.String(),
			strconv.FormatUint(ev.Tick, 10),
			ev.Kind.String(),
			strconv.FormatInt(int64(ev.TaskID), 10),
			ev.Task,
			strconv.FormatUint(uint64(ev.Priority), 10),
			strconv.Itoa(ev.Slot),
		}
		err := l.csvWriter.Write(rec)
		if err == nil {
			l.csvWriter.Flush()
			err = l.csvWriter.Error()
		}
		// Close reports the error again, log only the first
		if err != nil && !l.csvFailed {
			l.csvFailed = true
			l.log.Error("csv event log write failed", "path", l.csvFile.Name(), "tick", ev.Tick, "err", err)
		}
	}
}

// Close flushes and closes the CSV sink, if any.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.csvFile == nil {
		return nil
	}
	l.csvWriter.Flush()
	err := l.csvWriter.Error()
	if cerr := l.csvFile.Close(); err == nil {
		err = cerr
	}
	l.csvFile, l.csvWriter = nil, nil
	return err
}
