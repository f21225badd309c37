package sink

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/export"
)

// LogConfig configures the frame summary log sink.
type LogConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Every logs one frame out of every N. Defaults to 60.
	Every int `yaml:"every" toml:"every"`
}

// Validate validates the configuration.
func (c *LogConfig) Validate() error {
	if c.Every < 0 {
		return errors.New("log every must not be negative")
	}

	return nil
}

// FrameSnapshot summarizes one frame for logging.
type FrameSnapshot struct {
	Index       uint64
	DurationMs  float64
	Events      int
	Threads     int
	BusiestZone string
	BusiestMs   float64
}

// Snapshot summarizes a frame. The busiest zone is the one with the
// largest summed duration across all goroutines.
func Snapshot(f export.Frame) FrameSnapshot {
	snap := FrameSnapshot{
		Index:      f.Index,
		DurationMs: float64(f.Duration.Microseconds()) / 1e3,
		Events:     len(f.Records),
	}

	threads := make(map[uint64]struct{}, 8)
	totals := make(map[string]float64, 16)

	for _, r := range f.Records {
		threads[r.ThreadID] = struct{}{}
		totals[r.Name] += r.DurationMs
	}

	snap.Threads = len(threads)

	for name, total := range totals {
		if total > snap.BusiestMs || (total == snap.BusiestMs && name < snap.BusiestZone) {
			snap.BusiestZone = name
			snap.BusiestMs = total
		}
	}

	return snap
}

// LogSink logs a summary of every Nth frame.
type LogSink struct {
	log   logrus.FieldLogger
	every uint64
	seen  atomic.Uint64
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a new frame summary log sink.
func NewLogSink(
	log logrus.FieldLogger,
	cfg LogConfig,
) *LogSink {
	every := cfg.Every
	if every <= 0 {
		every = 60
	}

	return &LogSink{
		log:   log.WithField("sink", "log"),
		every: uint64(every),
	}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(_ context.Context) error {
	s.log.WithField("every", s.every).Info("Log sink started")

	return nil
}

func (s *LogSink) Stop() error {
	return nil
}

func (s *LogSink) HandleFrame(f export.Frame) {
	if (s.seen.Add(1)-1)%s.every != 0 {
		return
	}

	s.logSnapshot(Snapshot(f))
}

func (s *LogSink) logSnapshot(snap FrameSnapshot) {
	s.log.WithFields(logrus.Fields{
		"frame":        snap.Index,
		"duration_ms":  snap.DurationMs,
		"events":       snap.Events,
		"threads":      snap.Threads,
		"busiest_zone": snap.BusiestZone,
		"busiest_ms":   snap.BusiestMs,
	}).Info("Frame snapshot")
}
