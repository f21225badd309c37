package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/chronoprof/internal/export"
	httpexport "github.com/ethpandaops/chronoprof/internal/export/http"
	"github.com/ethpandaops/chronoprof/internal/profiler"
	"github.com/ethpandaops/chronoprof/internal/sink"
	"github.com/ethpandaops/chronoprof/internal/sink/aggregated"
	"github.com/ethpandaops/chronoprof/internal/workload"
)

// Config is the top-level configuration for the chronoprof agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// Profiler configures the event capture core.
	Profiler profiler.Config `yaml:"profiler" toml:"profiler"`

	// Frame configures the frame cadence.
	Frame FrameConfig `yaml:"frame" toml:"frame"`

	// Workload configures the synthetic render loop.
	Workload workload.Config `yaml:"workload" toml:"workload"`

	// Sinks configures frame consumers.
	Sinks sink.Config `yaml:"sinks" toml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health" toml:"health"`
}

// FrameConfig configures the frame pacer.
type FrameConfig struct {
	// Interval is the frame period. Defaults to 16ms.
	Interval time.Duration `yaml:"interval" toml:"interval"`

	// MaxFrames stops the agent after this many frames. Zero runs until
	// stopped.
	MaxFrames uint64 `yaml:"max_frames" toml:"max_frames"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Profiler: profiler.DefaultConfig(),
		Frame: FrameConfig{
			Interval: 16 * time.Millisecond,
		},
		Workload: workload.DefaultConfig(),
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		Sinks: sink.Config{
			Log: sink.LogConfig{
				Enabled: true,
				Every:   60,
			},
			HTTP:       httpexport.DefaultConfig(),
			Aggregated: aggregated.DefaultConfig(),
		},
	}
}

// LoadConfig reads and parses a configuration file. Files ending in .toml
// are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}

			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if err := c.Profiler.Validate(); err != nil {
		return fmt.Errorf("profiler: %w", err)
	}

	if c.Frame.Interval <= 0 {
		return errors.New("frame.interval must be positive")
	}

	if err := c.Workload.Validate(); err != nil {
		return fmt.Errorf("workload: %w", err)
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	return nil
}
