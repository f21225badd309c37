package workload

import (
	"errors"
	"fmt"
	"time"
)

// StageConfig describes one simulated subsystem. Each stage runs on its
// own long-lived goroutine named Thread.
type StageConfig struct {
	Name     string        `yaml:"name" toml:"name"`
	Thread   string        `yaml:"thread" toml:"thread"`
	Category string        `yaml:"category" toml:"category"`
	Color    uint32        `yaml:"color" toml:"color"`
	Mean     time.Duration `yaml:"mean" toml:"mean"`
	Jitter   time.Duration `yaml:"jitter" toml:"jitter"`

	// Children are nested zones sharing the stage's time budget.
	Children []string `yaml:"children" toml:"children"`
}

// Config configures the synthetic workload.
type Config struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Seed    uint64        `yaml:"seed" toml:"seed"`
	Stages  []StageConfig `yaml:"stages" toml:"stages"`
}

// DefaultStages returns the built-in render loop stages.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{
			Name:     "physics",
			Thread:   "PhysicsThread",
			Category: "simulation",
			Color:    0x4CAF50FF,
			Mean:     2 * time.Millisecond,
			Jitter:   500 * time.Microsecond,
			Children: []string{"broadphase", "narrowphase"},
		},
		{
			Name:     "animation",
			Thread:   "AnimationThread",
			Category: "simulation",
			Color:    0xFFC107FF,
			Mean:     1500 * time.Microsecond,
			Jitter:   300 * time.Microsecond,
			Children: []string{"skinning"},
		},
		{
			Name:     "render",
			Thread:   "RenderThread",
			Category: "gpu",
			Color:    0x2196F3FF,
			Mean:     4 * time.Millisecond,
			Jitter:   time.Millisecond,
			Children: []string{"cull", "draw"},
		},
		{
			Name:     "audio",
			Thread:   "AudioThread",
			Category: "audio",
			Color:    0x9C27B0FF,
			Mean:     500 * time.Microsecond,
			Jitter:   100 * time.Microsecond,
			Children: []string{"mix"},
		},
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Seed:    1,
		Stages:  DefaultStages(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Stages) == 0 {
		return errors.New("workload requires at least one stage")
	}

	seen := make(map[string]struct{}, len(c.Stages))

	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}

		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("stage %q: duplicate name", s.Name)
		}

		seen[s.Name] = struct{}{}

		if s.Mean < 0 || s.Jitter < 0 {
			return fmt.Errorf("stage %q: durations must not be negative", s.Name)
		}

		if s.Jitter > s.Mean {
			return fmt.Errorf("stage %q: jitter must not exceed mean", s.Name)
		}
	}

	return nil
}
