package sched

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
tick_ms: 5
prio_bits: 2
strategy: linemask
monotonic:
  kind: wide
  line: 20
  priority: 4
dispatchers: [10, 11]
tasks:
  - name: sampler
    priority: 1
    capacity: 3
  - name: blink
    kind: async
    priority: 2
  - name: button
    kind: hardware
    priority: 3
    line: 7
resources:
  - name: led
    ceiling: 2
`

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.TickMS)
		assert.Equal(t, uint8(2), cfg.PrioBits)
		assert.Equal(t, "linemask", cfg.Strategy)
		assert.Equal(t, MonotonicConfig{Kind: "wide", Bits: 64, Line: 20, Priority: 4}, cfg.Monotonic)
		require.Len(t, cfg.Tasks, 3)
		assert.Equal(t, "classic", cfg.Tasks[0].Kind)
		assert.Equal(t, 3, cfg.Tasks[0].Capacity)
		assert.Equal(t, 1, cfg.Tasks[1].Capacity, "an omitted capacity defaults to one slot")
		require.NotNil(t, cfg.Tasks[2].Line)
		assert.Equal(t, uint8(7), *cfg.Tasks[2].Line)
		assert.Equal(t, []ResourceConfig{{Name: "led", Ceiling: 2}}, cfg.Resources)
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte("tasks: [oops"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("multi-slot async task is fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		bad := "tasks:\n  - name: blink\n    kind: async\n    priority: 1\n    capacity: 9\n"
		require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "async tasks are single-slot")
	})

	t.Run("invalid table", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte("strategy: magic\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown strategy")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(c *Config)
		wantErr string
	}{
		"defaults": {
			mutate: func(*Config) {},
		},
		"too many prio bits": {
			mutate:  func(c *Config) { c.PrioBits = 8 },
			wantErr: "prio_bits",
		},
		"wide needs 64 bits": {
			mutate:  func(c *Config) { c.Monotonic = MonotonicConfig{Kind: "wide", Bits: 32, Priority: 1} },
			wantErr: "wide monotonic",
		},
		"half period too wide": {
			mutate:  func(c *Config) { c.Monotonic.Bits = 48 },
			wantErr: "half-period",
		},
		"duplicate task": {
			mutate: func(c *Config) {
				c.Tasks = []TaskConfig{{Name: "a", Kind: "classic", Priority: 1, Capacity: 1}, {Name: "a", Kind: "classic", Priority: 2, Capacity: 1}}
			},
			wantErr: "duplicate task",
		},
		"priority zero": {
			mutate:  func(c *Config) { c.Tasks = []TaskConfig{{Name: "a", Kind: "classic", Capacity: 1}} },
			wantErr: "priority 0",
		},
		"hardware without line": {
			mutate:  func(c *Config) { c.Tasks = []TaskConfig{{Name: "a", Kind: "hardware", Priority: 1, Capacity: 1}} },
			wantErr: "needs a line",
		},
		"classic with line": {
			mutate: func(c *Config) {
				c.Tasks = []TaskConfig{{Name: "a", Kind: "classic", Priority: 1, Capacity: 1, Line: lineOf(3)}}
			},
			wantErr: "only hardware",
		},
		"line clash": {
			mutate: func(c *Config) {
				c.Tasks = []TaskConfig{
					{Name: "a", Kind: "classic", Priority: 1, Capacity: 1},
					{Name: "b", Kind: "hardware", Priority: 2, Capacity: 1, Line: lineOf(1)},
				}
			},
			wantErr: "already used",
		},
		"not enough dispatchers": {
			mutate: func(c *Config) {
				c.Dispatchers = []uint8{1}
				c.Tasks = []TaskConfig{
					{Name: "a", Kind: "classic", Priority: 1, Capacity: 1},
					{Name: "b", Kind: "classic", Priority: 2, Capacity: 1},
				}
			},
			wantErr: "dispatcher lines",
		},
		"async with slots": {
			mutate:  func(c *Config) { c.Tasks = []TaskConfig{{Name: "a", Kind: "async", Priority: 1, Capacity: 2}} },
			wantErr: "single-slot",
		},
		"hardware with slots": {
			mutate: func(c *Config) {
				c.Tasks = []TaskConfig{{Name: "h", Kind: "hardware", Priority: 1, Capacity: 3, Line: lineOf(9)}}
			},
			wantErr: "hardware tasks are single-slot",
		},
		"negative capacity": {
			mutate:  func(c *Config) { c.Tasks = []TaskConfig{{Name: "a", Kind: "classic", Priority: 1, Capacity: -1}} },
			wantErr: "capacity -1",
		},
		"resource ceiling": {
			mutate:  func(c *Config) { c.Resources = []ResourceConfig{{Name: "r", Ceiling: 9}} },
			wantErr: "ceiling 9",
		},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestConfig_Levels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tasks = []TaskConfig{
		{Name: "c", Kind: "classic", Priority: 3},
		{Name: "a", Kind: "async", Priority: 1},
		{Name: "b", Kind: "classic", Priority: 3},
		{Name: "h", Kind: "hardware", Priority: 2, Line: lineOf(9)},
	}
	assert.Equal(t, []uint8{1, 3}, cfg.levels())
	_, shared := cfg.sharedTimerLevel()
	assert.False(t, shared)
}
