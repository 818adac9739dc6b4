// Package metrics exports runtime status events as Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"srprt/internal/sched"
)

// Options controls collector configuration.
type Options struct {
	Namespace      string
	LatencyBuckets []float64 // dispatch latency, in ticks
}

// Collector counts status events per task. It is a sched.Observer.
type Collector struct {
	eventsTotal     *prom.CounterVec
	rejectedTotal   *prom.CounterVec
	dispatchLatency *prom.HistogramVec
	lastTick        prom.Gauge

	mu       sync.Mutex
	enqueued map[slotKey]uint64
}

type slotKey struct {
	task sched.TaskID
	slot int
}

var _ sched.Observer = (*Collector)(nil)

// New creates and registers the collectors on reg, the default registerer
// when nil. Registering twice on the same registry shares the collectors.
func New(reg prom.Registerer, opts Options) (*Collector, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "srprt"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.LatencyBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(1, 4, 8)
	}

	events := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "task_events_total",
		Help:      "Task status events by kind.",
	}, []string{"task", "priority", "event"})
	rejected := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "task_rejected_total",
		Help:      "Starts refused because every slot was in use.",
	}, []string{"task"})
	latency := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: ns,
		Name:      "dispatch_latency_ticks",
		Help:      "Ticks between an instance becoming ready and its dispatch.",
		Buckets:   buckets,
	}, []string{"task"})
	tick := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "monotonic_ticks",
		Help:      "Monotonic instant of the latest event.",
	})

	var err error
	if events, err = register(reg, events); err != nil {
		return nil, err
	}
	if rejected, err = register(reg, rejected); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if tick, err = register(reg, tick); err != nil {
		return nil, err
	}

	return &Collector{
		eventsTotal:     events,
		rejectedTotal:   rejected,
		dispatchLatency: latency,
		lastTick:        tick,
		enqueued:        make(map[slotKey]uint64),
	}, nil
}

func (c *Collector) Observe(ev sched.StatusEvent) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(ev.Task, strconv.Itoa(int(ev.Priority)), ev.Kind.String()).Inc()
	c.lastTick.Set(float64(ev.Tick))

	key := slotKey{ev.TaskID, ev.Slot}
	switch ev.Kind {
	case sched.StatusReject:
		c.rejectedTotal.WithLabelValues(ev.Task).Inc()
	case sched.StatusEnqueue:
		c.mu.Lock()
		c.enqueued[key] = ev.Tick
		c.mu.Unlock()
	case sched.StatusDispatch:
		c.mu.Lock()
		at, ok := c.enqueued[key]
		delete(c.enqueued, key)
		c.mu.Unlock()
		// resumed async polls have no matching enqueue
		if ok {
			c.dispatchLatency.WithLabelValues(ev.Task).Observe(float64(ev.Tick - at))
		}
	}
}

func register[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are prom.AlreadyRegisteredError
	if errors.As(err, &are) {
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
