package sink

import (
	"context"

	"github.com/ethpandaops/chronoprof/internal/export"
	httpexport "github.com/ethpandaops/chronoprof/internal/export/http"
	"github.com/ethpandaops/chronoprof/internal/sink/aggregated"
)

// Config holds configuration for all sinks.
type Config struct {
	Log        LogConfig               `yaml:"log" toml:"log"`
	File       export.FileConfig       `yaml:"file" toml:"file"`
	Chrome     export.ChromeConfig     `yaml:"chrome" toml:"chrome"`
	HTTP       httpexport.Config       `yaml:"http" toml:"http"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse" toml:"clickhouse"`
	Aggregated aggregated.Config       `yaml:"aggregated" toml:"aggregated"`
}

// Validate validates every sink configuration.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Log,
		&c.File,
		&c.Chrome,
		&c.HTTP,
		&c.ClickHouse,
		&c.Aggregated,
	}

	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Sink defines the interface for merged frame consumers.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop shuts down the sink.
	Stop() error
	// HandleFrame processes one merged frame. It is called on the frame
	// loop and must not block.
	HandleFrame(f export.Frame)
}

var _ Sink = (*aggregated.Sink)(nil)
