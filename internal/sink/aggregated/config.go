package aggregated

import (
	"errors"
	"fmt"
	"time"
)

// Color modes for the console renderer.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config configures the aggregated zone statistics sink.
type Config struct {
	// Enabled enables the aggregated sink.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// History is the number of frames kept in the rolling window.
	// Defaults to 60.
	History int `yaml:"history" toml:"history"`

	// Interval is how often the console view is redrawn. Zero disables
	// periodic rendering; statistics are still collected.
	Interval time.Duration `yaml:"interval" toml:"interval"`

	// TopN limits the table to the N zones with the highest average.
	// Zero shows every zone.
	TopN int `yaml:"top_n" toml:"top_n"`

	// Color is one of auto, always or never. Auto enables colour only
	// when stdout is a terminal.
	Color string `yaml:"color" toml:"color"`

	// NameWidth is the display width of the zone name column.
	// Defaults to 24.
	NameWidth int `yaml:"name_width" toml:"name_width"`

	// MaxBar caps the number of blocks drawn for one zone.
	// Defaults to 60.
	MaxBar int `yaml:"max_bar" toml:"max_bar"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		History:   60,
		Interval:  time.Second,
		Color:     ColorAuto,
		NameWidth: 24,
		MaxBar:    60,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.History == 0 {
		c.History = defaults.History
	}

	if c.Color == "" {
		c.Color = defaults.Color
	}

	if c.NameWidth == 0 {
		c.NameWidth = defaults.NameWidth
	}

	if c.MaxBar == 0 {
		c.MaxBar = defaults.MaxBar
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.History < 0 {
		return errors.New("aggregated history must not be negative")
	}

	if c.Interval < 0 {
		return errors.New("aggregated interval must not be negative")
	}

	if c.TopN < 0 {
		return errors.New("aggregated top_n must not be negative")
	}

	if c.NameWidth < 0 || c.MaxBar < 0 {
		return errors.New("aggregated widths must not be negative")
	}

	switch c.Color {
	case "", ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("unsupported color mode: %q", c.Color)
	}

	return nil
}
