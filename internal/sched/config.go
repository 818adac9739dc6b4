package sched

import (
	"errors"
	"fmt"
	"os"
	"sort"

	yaml "github.com/goccy/go-yaml"

	"srprt/internal/ceiling"
	"srprt/internal/hw"
	"srprt/internal/monotonic"
)

// Config mirrors config.yml: the hardware description plus the static task
// and resource tables.
type Config struct {
	TickMS      int              `yaml:"tick_ms"`     // wall-clock length of one simulated tick pulse
	PrioBits    uint8            `yaml:"prio_bits"`   // implemented NVIC priority bits
	Strategy    string           `yaml:"strategy"`    // basepri | threshold | linemask
	Monotonic   MonotonicConfig  `yaml:"monotonic"`   // timer backing the timer queue
	Dispatchers []uint8          `yaml:"dispatchers"` // free interrupt lines, one per software level
	Tasks       []TaskConfig     `yaml:"tasks"`
	Resources   []ResourceConfig `yaml:"resources"`
}

// MonotonicConfig selects and places the monotonic backend.
type MonotonicConfig struct {
	Kind     string `yaml:"kind"` // wide | half_period
	Bits     uint8  `yaml:"bits"`
	Line     uint8  `yaml:"line"`
	Priority uint8  `yaml:"priority"`
}

// TaskConfig is one row of the task table.
type TaskConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // classic | async | hardware
	Priority uint8  `yaml:"priority"`
	Capacity int    `yaml:"capacity"`
	Line     *uint8 `yaml:"line"` // hardware tasks only
}

// ResourceConfig is one row of the resource table. The ceiling comes from
// offline analysis and is trusted.
type ResourceConfig struct {
	Name    string `yaml:"name"`
	Ceiling uint8  `yaml:"ceiling"`
}

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		TickMS:   1,
		PrioBits: 3,
		Strategy: string(ceiling.KindBasePri),
		Monotonic: MonotonicConfig{
			Kind:     string(monotonic.KindHalfPeriod),
			Bits:     16,
			Line:     0,
			Priority: 8,
		},
		Dispatchers: []uint8{1, 2, 3, 4, 5, 6, 7},
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return defaultConfig() }

// Load reads YAML and overrides defaults; empty path = defaults only.
// A missing file also yields the defaults; a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	if c.TickMS <= 0 {
		c.TickMS = 1
	}
	if c.Monotonic.Kind == string(monotonic.KindWide) {
		c.Monotonic.Bits = 64
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Kind == "" {
			t.Kind = string(KindClassic)
		}
		if t.Capacity == 0 {
			t.Capacity = 1
		}
	}
}

// Validate checks the static tables against the hardware description. Any
// error here is a configuration bug that must stop the program.
func (c Config) Validate() error {
	if c.PrioBits == 0 || c.PrioBits > 7 {
		return fmt.Errorf("prio_bits %d unsupported", c.PrioBits)
	}
	max := uint8(1) << c.PrioBits

	switch ceiling.Kind(c.Strategy) {
	case ceiling.KindBasePri, ceiling.KindThreshold, ceiling.KindLineMask:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	m := c.Monotonic
	switch monotonic.Kind(m.Kind) {
	case monotonic.KindWide:
		if m.Bits != 64 {
			return fmt.Errorf("wide monotonic needs 64 bits, got %d", m.Bits)
		}
	case monotonic.KindHalfPeriod:
		if m.Bits < 2 || m.Bits > 32 {
			return fmt.Errorf("half-period monotonic needs 2..32 bits, got %d", m.Bits)
		}
	default:
		return fmt.Errorf("unknown monotonic kind %q", m.Kind)
	}
	if m.Priority == 0 || m.Priority > max {
		return fmt.Errorf("monotonic priority %d outside 1..%d", m.Priority, max)
	}

	names := map[string]bool{}
	for _, t := range c.Tasks {
		if t.Name == "" {
			return errors.New("task without a name")
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task %q", t.Name)
		}
		names[t.Name] = true
		if t.Priority == 0 || t.Priority > max {
			return fmt.Errorf("task %q: priority %d outside 1..%d", t.Name, t.Priority, max)
		}
		switch Kind(t.Kind) {
		case KindClassic, KindAsync:
			if t.Line != nil {
				return fmt.Errorf("task %q: only hardware tasks bind a line", t.Name)
			}
		case KindHardware:
			if t.Line == nil {
				return fmt.Errorf("task %q: hardware task needs a line", t.Name)
			}
		default:
			return fmt.Errorf("task %q: unknown kind %q", t.Name, t.Kind)
		}
		if t.Capacity <= 0 {
			return fmt.Errorf("task %q: capacity %d", t.Name, t.Capacity)
		}
		if Kind(t.Kind) != KindClassic && t.Capacity != 1 {
			return fmt.Errorf("task %q: %s tasks are single-slot", t.Name, t.Kind)
		}
	}

	levels := c.levels()
	if len(levels) > len(c.Dispatchers) {
		return fmt.Errorf("%d software priority levels but only %d dispatcher lines", len(levels), len(c.Dispatchers))
	}

	used := map[uint8]string{}
	claim := func(l uint8, who string) error {
		if int(l) >= hw.MaxLines {
			return fmt.Errorf("%s: line %d out of range", who, l)
		}
		if prev, ok := used[l]; ok {
			return fmt.Errorf("%s: line %d already used by %s", who, l, prev)
		}
		used[l] = who
		return nil
	}
	for i, p := range levels {
		if err := claim(c.Dispatchers[i], fmt.Sprintf("dispatcher for priority %d", p)); err != nil {
			return err
		}
	}
	if _, shared := c.sharedTimerLevel(); !shared {
		if err := claim(m.Line, "monotonic"); err != nil {
			return err
		}
	}
	for _, t := range c.Tasks {
		if t.Line != nil {
			if err := claim(*t.Line, "task "+t.Name); err != nil {
				return err
			}
		}
	}

	res := map[string]bool{}
	for _, r := range c.Resources {
		if res[r.Name] {
			return fmt.Errorf("duplicate resource %q", r.Name)
		}
		res[r.Name] = true
		if r.Ceiling == 0 || r.Ceiling > max {
			return fmt.Errorf("resource %q: ceiling %d outside 1..%d", r.Name, r.Ceiling, max)
		}
	}
	return nil
}

// levels returns the distinct priorities of software tasks, ascending.
// Dispatcher lines are handed out in this order.
func (c Config) levels() []uint8 {
	seen := map[uint8]bool{}
	var out []uint8
	for _, t := range c.Tasks {
		if Kind(t.Kind) == KindHardware || seen[t.Priority] {
			continue
		}
		seen[t.Priority] = true
		out = append(out, t.Priority)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sharedTimerLevel reports whether the monotonic sits on the dispatcher
// line of its own priority, in which case that handler serves both.
func (c Config) sharedTimerLevel() (uint8, bool) {
	for i, p := range c.levels() {
		if i < len(c.Dispatchers) && c.Dispatchers[i] == c.Monotonic.Line && p == c.Monotonic.Priority {
			return p, true
		}
	}
	return 0, false
}
