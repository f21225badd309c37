package aggregated

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/export"
)

// Sink folds every merged frame into a Collector and periodically renders
// the latest frame with the aggregated statistics.
type Sink struct {
	log       logrus.FieldLogger
	cfg       Config
	collector *Collector
	renderer  *Renderer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new aggregated sink rendering to out. A nil out renders
// to stdout.
func New(
	log logrus.FieldLogger,
	cfg Config,
	out io.Writer,
) *Sink {
	cfg.ApplyDefaults()

	if out == nil {
		out = os.Stdout
	}

	return &Sink{
		log:       log.WithField("sink", "aggregated"),
		cfg:       cfg,
		collector: NewCollector(cfg.History),
		renderer:  NewRenderer(out, cfg),
		done:      make(chan struct{}),
	}
}

// Name returns the sink name.
func (s *Sink) Name() string { return "aggregated" }

// Collector returns the sink's statistics collector.
func (s *Sink) Collector() *Collector { return s.collector }

// Start starts the render loop when an interval is configured.
func (s *Sink) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.Interval <= 0 {
		close(s.done)

		return nil
	}

	go s.renderLoop(ctx)

	s.log.WithFields(logrus.Fields{
		"history":  s.cfg.History,
		"interval": s.cfg.Interval,
	}).Info("Aggregated sink started")

	return nil
}

// Stop stops the render loop and draws a final view.
func (s *Sink) Stop() error {
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done

	if s.collector.TotalFrames() == 0 || s.cfg.Interval <= 0 {
		return nil
	}

	return s.renderer.Render(s.collector)
}

// HandleFrame records the frame. It never blocks on rendering.
func (s *Sink) HandleFrame(f export.Frame) {
	s.collector.Update(f)
}

func (s *Sink) renderLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.collector.TotalFrames() == 0 {
				continue
			}

			if err := s.renderer.Render(s.collector); err != nil {
				s.log.WithError(err).Warn("Failed to render zone statistics")
			}
		}
	}
}
