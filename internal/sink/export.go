package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/export"
)

// DefaultQueueSize is the number of frames an ExportSink buffers.
const DefaultQueueSize = 64

// lifecycle is implemented by writers that hold a connection.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// ExportSink hands every Nth frame to an export.Writer on its own
// goroutine. When the queue is full frames are dropped, never blocking the
// frame loop.
type ExportSink struct {
	log    logrus.FieldLogger
	writer export.Writer
	health *export.HealthMetrics
	every  uint64

	seen    atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64

	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
	frameCh chan export.Frame
}

var _ Sink = (*ExportSink)(nil)

// NewExportSink creates a sink that writes one frame out of every `every`
// frames through writer. queueSize bounds the frames waiting to be
// written.
func NewExportSink(
	log logrus.FieldLogger,
	writer export.Writer,
	every int,
	queueSize int,
	health *export.HealthMetrics,
) *ExportSink {
	if every <= 0 {
		every = 1
	}

	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &ExportSink{
		log:     log.WithField("sink", writer.Name()),
		writer:  writer,
		health:  health,
		every:   uint64(every),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		frameCh: make(chan export.Frame, queueSize),
	}
}

func (s *ExportSink) Name() string { return s.writer.Name() }

func (s *ExportSink) Start(ctx context.Context) error {
	if lc, ok := s.writer.(lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return err
		}
	}

	// Writes outlive ctx so Stop can flush the queue. Only Stop cancels
	// them.
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go s.runLoop(ctx)

	s.log.WithField("every", s.every).Info("Export sink started")

	return nil
}

// Stop writes the frames still queued, waiting for any write in progress,
// then stops the writer.
func (s *ExportSink) Stop() error {
	if s.cancel != nil {
		close(s.quit)
		<-s.done
		s.cancel()
	} else {
		s.drain(context.Background())
	}

	if lc, ok := s.writer.(lifecycle); ok {
		return lc.Stop()
	}

	return nil
}

func (s *ExportSink) HandleFrame(f export.Frame) {
	if (s.seen.Add(1)-1)%s.every != 0 {
		return
	}

	select {
	case s.frameCh <- f:
		if s.health != nil {
			s.health.SinkQueueLength.WithLabelValues(s.Name()).Set(float64(len(s.frameCh)))
		}
	default:
		s.log.WithField("frame", f.Index).Warn("Export sink queue full, dropping frame")
		s.reportDrop()
	}
}

// Dropped returns the number of frames dropped because the queue was full.
func (s *ExportSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Written returns the number of frames written successfully.
func (s *ExportSink) Written() uint64 {
	return s.written.Load()
}

// Failed returns the number of frames the writer rejected.
func (s *ExportSink) Failed() uint64 {
	return s.failed.Load()
}

func (s *ExportSink) runLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.drain(ctx)

			return
		case f := <-s.frameCh:
			s.write(ctx, f)
		}
	}
}

func (s *ExportSink) drain(ctx context.Context) {
	for {
		select {
		case f := <-s.frameCh:
			s.write(ctx, f)
		default:
			return
		}
	}
}

func (s *ExportSink) write(ctx context.Context, f export.Frame) {
	start := time.Now()

	if err := s.writer.WriteFrame(ctx, f); err != nil {
		s.log.WithError(err).WithField("frame", f.Index).Error("Frame write failed")
		s.reportExportError()

		return
	}

	s.written.Add(1)

	if s.health != nil {
		s.health.SinkFramesWritten.WithLabelValues(s.Name()).Inc()
		s.health.SinkWriteDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		s.health.SinkQueueLength.WithLabelValues(s.Name()).Set(float64(len(s.frameCh)))
	}
}

func (s *ExportSink) reportDrop() {
	s.dropped.Add(1)

	if s.health != nil {
		s.health.SinkFramesDropped.WithLabelValues(s.Name()).Inc()
	}
}

func (s *ExportSink) reportExportError() {
	s.failed.Add(1)

	if s.health != nil {
		s.health.ExportErrors.WithLabelValues(s.Name()).Inc()
	}
}
