package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fortio.org/safecast"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Enabled enables the ClickHouse sink.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database" toml:"database"`

	// Table is the target table name.
	// Defaults to frame_events.
	Table string `yaml:"table" toml:"table"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username" toml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password" toml:"password"`

	// Every writes one frame out of every N. Defaults to 1.
	Every int `yaml:"every" toml:"every"`

	// MetaClientName identifies this process in every row.
	MetaClientName string `yaml:"meta_client_name" toml:"meta_client_name"`
}

// Validate validates the configuration.
func (c *ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("clickhouse endpoint is required when enabled")
	}

	if c.Every < 0 {
		return errors.New("clickhouse every must not be negative")
	}

	return nil
}

// frameEventRow is one row of the frame_events table.
type frameEventRow struct {
	FrameIndex     uint64
	FrameStart     time.Time
	Name           string
	StartMs        float64
	DurationMs     float64
	DurationNs     uint64
	ThreadID       uint64
	ThreadName     string
	Color          uint32
	Category       string
	MetaClientName string
}

// ClickHouseWriter inserts one row per record into ClickHouse.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn
}

var _ Writer = (*ClickHouseWriter)(nil)

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
) *ClickHouseWriter {
	if cfg.Table == "" {
		cfg.Table = "frame_events"
	}

	return &ClickHouseWriter{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg,
	}
}

// Name returns the writer name.
func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// WriteFrame inserts the frame's records as a single batch.
func (w *ClickHouseWriter) WriteFrame(ctx context.Context, f Frame) error {
	if w.conn == nil {
		return errors.New("clickhouse writer not started")
	}

	if len(f.Records) == 0 {
		return nil
	}

	rows, err := w.rows(f)
	if err != nil {
		return err
	}

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.cfg.Table))
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for i := range rows {
		r := &rows[i]

		if err := batch.Append(
			r.FrameIndex,
			r.FrameStart,
			r.Name,
			r.StartMs,
			r.DurationMs,
			r.DurationNs,
			r.ThreadID,
			r.ThreadName,
			r.Color,
			r.Category,
			r.MetaClientName,
		); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"frame": f.Index,
		"rows":  len(rows),
	}).Debug("Inserted frame events")

	return nil
}

func (w *ClickHouseWriter) rows(f Frame) ([]frameEventRow, error) {
	start := f.Start
	if start.IsZero() {
		start = time.Now()
	}

	rows := make([]frameEventRow, 0, len(f.Records))

	for _, r := range f.Records {
		ns, err := safecast.Conv[uint64](int64(r.DurationMs * float64(time.Millisecond)))
		if err != nil {
			return nil, fmt.Errorf("converting duration of %q: %w", r.Name, err)
		}

		rows = append(rows, frameEventRow{
			FrameIndex:     f.Index,
			FrameStart:     start.UTC(),
			Name:           r.Name,
			StartMs:        r.StartMs,
			DurationMs:     r.DurationMs,
			DurationNs:     ns,
			ThreadID:       r.ThreadID,
			ThreadName:     r.ThreadName,
			Color:          r.Color,
			Category:       r.Category,
			MetaClientName: w.cfg.MetaClientName,
		})
	}

	return rows, nil
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}
