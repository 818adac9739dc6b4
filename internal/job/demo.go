// internal/job/demo.go

// Package job holds the demo application run by srpsim: a periodic sensor
// sampler, a reporter, an async LED blinker with its driver, and a button
// interrupt feeding the blinker through a channel.
package job

import (
	"errors"
	"log/slog"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"srprt/internal/ceiling"
	"srprt/internal/executor"
	"srprt/internal/monotonic"
	"srprt/internal/sched"
	"srprt/internal/syncq"
	"srprt/internal/timerq"
)

// Task and resource names the demo binds; config.yml must declare them.
const (
	TaskSampler = "sampler"
	TaskReport  = "report"
	TaskBlink   = "blink"
	TaskDriver  = "driver"
	TaskButton  = "button"

	ResourceLED     = "led"
	ResourceSamples = "samples"
	ResourcePresses = "presses" // button -> blink channel
	ResourceAck     = "ack"     // driver -> blink signal
)

// Config tunes the demo.
type Config struct {
	SamplePeriod monotonic.Ticks // between two sampler runs
	ReportEvery  int             // samples per report
	Window       int             // samples kept for the report
	BlinkPeriod  monotonic.Ticks // LED half period
	Blinks       int             // on/off cycles per blink burst
	DriverDelay  monotonic.Ticks // until the driver has applied a level
	AckTimeout   monotonic.Ticks // how long blink waits for the driver
	PressQueue   int             // presses buffered while blinking
}

// DefaultConfig is what srpsim runs with.
func DefaultConfig() Config {
	return Config{
		SamplePeriod: 100,
		ReportEvery:  5,
		Window:       8,
		BlinkPeriod:  250,
		Blinks:       3,
		DriverDelay:  25,
		AckTimeout:   50,
		PressQueue:   1,
	}
}

// Tables returns the task and resource tables the demo expects, for
// configurations that do not declare their own.
func Tables() ([]sched.TaskConfig, []sched.ResourceConfig) {
	button := uint8(9)
	tasks := []sched.TaskConfig{
		{Name: TaskSampler, Kind: string(sched.KindClassic), Priority: 1, Capacity: 2},
		{Name: TaskBlink, Kind: string(sched.KindAsync), Priority: 1, Capacity: 1},
		{Name: TaskReport, Kind: string(sched.KindClassic), Priority: 2, Capacity: 2},
		{Name: TaskDriver, Kind: string(sched.KindClassic), Priority: 2, Capacity: 1},
		{Name: TaskButton, Kind: string(sched.KindHardware), Priority: 3, Capacity: 1, Line: &button},
	}
	resources := []sched.ResourceConfig{
		{Name: ResourceLED, Ceiling: 3},
		{Name: ResourceSamples, Ceiling: 2},
		{Name: ResourcePresses, Ceiling: 3},
		{Name: ResourceAck, Ceiling: 2},
	}
	return tasks, resources
}

// LED is the state shared by the driver and the button.
type LED struct {
	On      bool
	Toggles int
	Presses int
	Dropped int // presses that found the queue full
}

// Samples is a sliding window of sensor readings.
type Samples struct {
	window *circularbuffer.Queue
	Total  int
}

// Mean averages the window.
func (s *Samples) Mean() float64 {
	vals := s.window.Values()
	if len(vals) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vals {
		sum += v.(int)
	}
	return float64(sum) / float64(len(vals))
}

// Report is what the report task publishes.
type Report struct {
	At    monotonic.Ticks
	Total int
	Mean  float64
}

// Demo owns the demo's resources and task bodies.
type Demo struct {
	cfg     Config
	log     *slog.Logger
	led     *ceiling.Resource[LED]
	samples *ceiling.Resource[Samples]
	reports *ceiling.Resource[[]Report]
	presses *syncq.Channel[monotonic.Ticks]
	ack     *syncq.Signal[bool]

	sampler, report, blink, driver sched.TaskID
}

// Install binds every demo task on rt. It must run before rt.Start.
func Install(rt *sched.Runtime, cfg Config, log *slog.Logger) *Demo {
	if log == nil {
		log = slog.Default()
	}
	d := &Demo{
		cfg:     cfg,
		log:     log,
		led:     sched.NewResource(rt, ResourceLED, LED{}),
		samples: sched.NewResource(rt, ResourceSamples, Samples{window: circularbuffer.New(cfg.Window)}),
		// reports are only shared between report and thread mode
		reports: ceiling.NewResource[[]Report]("reports", rt.Tasks()[rt.Task(TaskReport)].Priority, nil),
		presses: sched.NewChannel[monotonic.Ticks](rt, ResourcePresses, cfg.PressQueue),
		ack:     sched.NewSignal[bool](rt, ResourceAck),
		sampler: rt.Task(TaskSampler),
		report:  rt.Task(TaskReport),
		blink:   rt.Task(TaskBlink),
		driver:  rt.Task(TaskDriver),
	}
	rt.Bind(TaskSampler, d.runSampler)
	rt.Bind(TaskReport, d.runReport)
	rt.BindAsync(TaskBlink, d.runBlink)
	rt.Bind(TaskDriver, d.runDriver)
	rt.Bind(TaskButton, d.runButton)
	return d
}

// Init is the startup closure: first sample one period out, blinker now.
func (d *Demo) Init(ctx *sched.Context) {
	if _, err := ctx.ScheduleAfter(d.sampler, d.cfg.SamplePeriod, 0); err != nil {
		d.log.Error("schedule first sample", "err", err)
	}
	if err := ctx.Trigger(d.blink, d.cfg.Blinks); err != nil {
		d.log.Error("start blink", "err", err)
	}
}

// Presses returns how many presses wait for the blinker.
func (d *Demo) Presses() int { return d.presses.Len() }

// LED returns a snapshot of the LED state. Call it from thread mode.
func (d *Demo) LED(l *ceiling.Locker) LED {
	return ceiling.Lock(l, d.led, func(v *LED) LED { return *v })
}

// Reports returns the reports published so far. Call it from thread mode.
func (d *Demo) Reports(l *ceiling.Locker) []Report {
	return ceiling.Lock(l, d.reports, func(v *[]Report) []Report {
		return append([]Report(nil), *v...)
	})
}

// sensor is a deterministic stand-in for an ADC read.
func sensor(now monotonic.Ticks) int { return int(now*7%101) + 20 }

func (d *Demo) runSampler(ctx *sched.Context, arg any) {
	seq := arg.(int)
	v := sensor(ctx.Now())
	total := sched.Lock(ctx, d.samples, func(s *Samples) int {
		s.window.Enqueue(v)
		s.Total++
		return s.Total
	})

	if total%d.cfg.ReportEvery == 0 {
		if err := ctx.Trigger(d.report, total); err != nil {
			d.log.Warn("report dropped", "sample", total, "err", err)
		}
	}
	if _, err := ctx.ScheduleAfter(d.sampler, d.cfg.SamplePeriod, seq+1); err != nil {
		d.log.Error("reschedule sampler", "seq", seq, "err", err)
	}
}

func (d *Demo) runReport(ctx *sched.Context, arg any) {
	mean := sched.Lock(ctx, d.samples, func(s *Samples) float64 { return s.Mean() })
	r := Report{At: ctx.Now(), Total: arg.(int), Mean: mean}
	sched.LockFunc(ctx, d.reports, func(v *[]Report) { *v = append(*v, r) })
	d.log.Info("report", "tick", r.At, "samples", r.Total, "mean", r.Mean)
}

// runButton counts the press and hands it to the blinker. A full queue
// gives the press back; it is only counted.
func (d *Demo) runButton(ctx *sched.Context, _ any) {
	sched.LockFunc(ctx, d.led, func(l *LED) { l.Presses++ })
	err := d.presses.TrySend(ctx.Now())
	var full *syncq.SendError[monotonic.Ticks]
	if errors.As(err, &full) {
		sched.LockFunc(ctx, d.led, func(l *LED) { l.Dropped++ })
		d.log.Debug("press dropped", "at", full.Value, "err", full.Err)
	}
}

// runDriver applies a level to the LED and acknowledges it.
func (d *Demo) runDriver(ctx *sched.Context, arg any) {
	on := arg.(bool)
	sched.LockFunc(ctx, d.led, func(l *LED) {
		l.On = on
		l.Toggles++
	})
	d.ack.Write(on)
}

// runBlink runs bursts of n on/off cycles for the life of the program: one
// right away, then one per press taken from the queue. Each toggle goes
// through the driver and waits for its acknowledgement, bounded by
// AckTimeout, then holds for a blink period.
func (d *Demo) runBlink(ctx *sched.Context, arg any) executor.Future[struct{}] {
	n := arg.(int)
	toggles := 0
	on := false
	var (
		ack   *timerq.Timeout[bool]
		pause *timerq.Delay
		press *syncq.RecvFuture[monotonic.Ticks]
	)
	return executor.Func[struct{}](func(w executor.Waker) (struct{}, bool) {
		for {
			switch {
			case ack != nil:
				res, ok := ack.Poll(w)
				if !ok {
					return struct{}{}, false
				}
				ack = nil
				if res.Err != nil {
					d.log.Warn("led ack", "level", on, "err", res.Err)
				}
				pause = ctx.Delay(d.cfg.BlinkPeriod)
			case pause != nil:
				if _, ok := pause.Poll(w); !ok {
					return struct{}{}, false
				}
				pause = nil
			case press != nil:
				res, ok := press.Poll(w)
				if !ok {
					return struct{}{}, false
				}
				press = nil
				if res.Err != nil {
					return struct{}{}, true
				}
				d.log.Debug("blink burst", "pressed_at", res.Value, "now", ctx.Now())
				toggles = 0
			case toggles == 2*n:
				press = d.presses.Recv()
			default:
				on = !on
				toggles++
				if _, err := ctx.ScheduleAfter(d.driver, d.cfg.DriverDelay, on); err != nil {
					d.log.Warn("driver busy", "err", err)
				}
				ack = sched.TimeoutAfter[bool](ctx, d.cfg.AckTimeout, d.ack.WaitFresh())
			}
		}
	})
}
