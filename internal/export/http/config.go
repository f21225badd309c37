package http

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ethpandaops/chronoprof/internal/export/codec"
)

// Delivery modes.
const (
	// DeliveryAsync queues records and returns immediately.
	DeliveryAsync = "async"
	// DeliverySync makes WriteFrame wait until the batches holding the
	// frame's records were sent.
	DeliverySync = "sync"
)

// BatchConfig bounds how records are grouped into requests.
type BatchConfig struct {
	// MaxRecords is the most records sent in one request. Defaults to 512.
	MaxRecords int `yaml:"max_records" toml:"max_records"`

	// Timeout sends a partial batch after this long. Defaults to 5s.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// QueueRecords bounds the records waiting to be sent. Records beyond
	// it are dropped. Defaults to 51200.
	QueueRecords int `yaml:"queue_records" toml:"queue_records"`

	// Workers is the number of concurrent senders. Defaults to 1.
	Workers int `yaml:"workers" toml:"workers"`
}

// Config configures the HTTP frame writer.
type Config struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Address is the http(s) URL records are POSTed to.
	Address string `yaml:"address" toml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// Compression is none, gzip, zstd, zlib or snappy. Defaults to gzip.
	Compression codec.Codec `yaml:"compression" toml:"compression"`

	// Delivery is async or sync. Defaults to async.
	Delivery string `yaml:"delivery" toml:"delivery"`

	// RequestTimeout bounds one request. Defaults to 30s.
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`

	DisableKeepAlive bool `yaml:"disable_keep_alive" toml:"disable_keep_alive"`

	Batch BatchConfig `yaml:"batch" toml:"batch"`

	// Every writes one frame out of every N. Defaults to 1.
	Every int `yaml:"every" toml:"every"`

	// MetaClientName is added to every exported record.
	MetaClientName string `yaml:"meta_client_name" toml:"meta_client_name"`
}

// DefaultConfig returns the HTTP writer defaults. It is disabled.
func DefaultConfig() Config {
	return Config{
		Compression:    codec.Gzip,
		Delivery:       DeliveryAsync,
		RequestTimeout: 30 * time.Second,
		Batch: BatchConfig{
			MaxRecords:   512,
			Timeout:      5 * time.Second,
			QueueRecords: 51200,
			Workers:      1,
		},
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.Delivery == "" {
		c.Delivery = d.Delivery
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}

	if c.Batch.MaxRecords == 0 {
		c.Batch.MaxRecords = d.Batch.MaxRecords
	}

	if c.Batch.Timeout <= 0 {
		c.Batch.Timeout = d.Batch.Timeout
	}

	if c.Batch.QueueRecords == 0 {
		c.Batch.QueueRecords = d.Batch.QueueRecords
	}

	if c.Batch.Workers == 0 {
		c.Batch.Workers = d.Batch.Workers
	}
}

// Validate validates the configuration. A disabled writer is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("http address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("invalid http address: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http address must be http or https, got %q", c.Address)
	}

	if _, err := codec.Parse(string(c.Compression)); err != nil {
		return fmt.Errorf("http compression: %w", err)
	}

	switch c.Delivery {
	case "", DeliveryAsync, DeliverySync:
	default:
		return fmt.Errorf("http delivery must be async or sync, got %q", c.Delivery)
	}

	if c.Every < 0 {
		return errors.New("http every must not be negative")
	}

	return c.Batch.validate()
}

func (b *BatchConfig) validate() error {
	if b.MaxRecords < 0 || b.QueueRecords < 0 {
		return errors.New("http batch sizes must not be negative")
	}

	if b.Workers < 0 {
		return errors.New("http batch workers must not be negative")
	}

	if b.MaxRecords > 0 && b.QueueRecords > 0 && b.MaxRecords > b.QueueRecords {
		return fmt.Errorf("http batch max_records (%d) exceeds queue_records (%d)", b.MaxRecords, b.QueueRecords)
	}

	return nil
}
