package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/clock"
	"github.com/ethpandaops/chronoprof/internal/export"
	"github.com/ethpandaops/chronoprof/internal/profiler"
	"github.com/ethpandaops/chronoprof/internal/sink"
	"github.com/ethpandaops/chronoprof/internal/sink/aggregated"
	"github.com/ethpandaops/chronoprof/internal/workload"
)

// MainThreadName names the goroutine driving the frame loop.
const MainThreadName = "MainThread"

// Agent is the top-level orchestrator for chronoprof.
type Agent interface {
	// Start initializes all components and begins the frame loop.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
	// Done is closed once the configured number of frames has run.
	Done() <-chan struct{}
	// Profiler returns the profiler the agent records into.
	Profiler() *profiler.Profiler
	// Sections returns the time each sink spent handling frames, keyed
	// "sink/<name>".
	Sections() *aggregated.SectionTimer
}

// stageRunner runs the work recorded inside each frame.
type stageRunner interface {
	Start(ctx context.Context) error
	Stop() error
	RunFrame(ctx context.Context) error
}

var _ stageRunner = (*workload.Workload)(nil)

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	profiler *profiler.Profiler
	pacer    clock.Pacer
	workload stageRunner
	sinks    []sink.Sink
	sections *aggregated.SectionTimer

	// ticks coalesces pacer callbacks so frames never overlap.
	ticks   chan uint64
	skipped atomic.Uint64
	frames  atomic.Uint64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a new Agent. Console output of the aggregated sink goes to
// out.
func New(log logrus.FieldLogger, cfg *Config, out io.Writer) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)
	p := profiler.New(cfg.Profiler)

	sinks, err := sink.Build(log, cfg.Sinks, health, out)
	if err != nil {
		return nil, fmt.Errorf("building sinks: %w", err)
	}

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		profiler: p,
		sinks:    sinks,
		sections: aggregated.NewSectionTimer(log),
		ticks:    make(chan uint64, 1),
		done:     make(chan struct{}),
	}

	if cfg.Workload.Enabled {
		a.workload = workload.New(log, p, cfg.Workload)
	}

	return a, nil
}

func (a *agent) Profiler() *profiler.Profiler {
	return a.profiler
}

func (a *agent) Sections() *aggregated.SectionTimer {
	return a.sections
}

func (a *agent) Done() <-chan struct{} {
	return a.done
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := a.phase("health", func() error {
		return a.health.Start(ctx)
	}); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start all enabled sinks.
	if err := a.phase("sinks", func() error {
		return a.startSinks(ctx)
	}); err != nil {
		return err
	}

	// 3. Start the stage goroutines.
	if a.workload != nil {
		if err := a.phase("workload", func() error {
			return a.workload.Start(ctx)
		}); err != nil {
			return fmt.Errorf("starting workload: %w", err)
		}
	}

	// 4. Fan merged frames out to health metrics and sinks.
	a.profiler.OnFrameEnd(a.handleFrame)

	// 5. Start pacing frames.
	pacer, err := clock.New(a.log, time.Now(), a.cfg.Frame.Interval)
	if err != nil {
		return fmt.Errorf("creating pacer: %w", err)
	}

	a.pacer = pacer

	a.pacer.OnFrameChanged(func(frame uint64) {
		select {
		case a.ticks <- frame:
		default:
			// The previous frame is still running.
			a.skipped.Add(1)
		}
	})

	if err := a.pacer.Start(ctx); err != nil {
		return fmt.Errorf("starting pacer: %w", err)
	}

	a.wg.Add(1)

	go a.frameLoop(ctx)

	a.log.WithFields(logrus.Fields{
		"interval":   a.cfg.Frame.Interval,
		"max_frames": a.cfg.Frame.MaxFrames,
		"sinks":      len(a.sinks),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()

	// Stop in reverse order.
	if a.pacer != nil {
		a.pacer.Stop()
	}

	var errs []error

	if a.workload != nil {
		if err := a.workload.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping workload: %w", err))
		}
	}

	for i := len(a.sinks) - 1; i >= 0; i-- {
		s := a.sinks[i]

		if err := s.Stop(); err != nil {
			a.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if a.health != nil {
		a.health.Stop()
	}

	a.log.WithFields(logrus.Fields{
		"frames":  a.frames.Load(),
		"skipped": a.skipped.Load(),
	}).Info("Agent stopped")

	return errors.Join(errs...)
}

func (a *agent) startSinks(ctx context.Context) error {
	for _, s := range a.sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		if s.Name() == "clickhouse" {
			a.health.ClickHouseConnected.WithLabelValues(s.Name()).Set(1)
		}

		a.log.WithField("sink", s.Name()).Info("Sink started")
	}

	return nil
}

// phase runs fn and records how long it took.
func (a *agent) phase(name string, fn func() error) error {
	start := time.Now()

	if err := fn(); err != nil {
		return err
	}

	a.health.AgentStartDuration.WithLabelValues(name).Set(time.Since(start).Seconds())

	return nil
}

func (a *agent) frameLoop(ctx context.Context) {
	defer a.wg.Done()

	a.profiler.SetThreadName(MainThreadName)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.ticks:
			if err := a.runFrame(ctx); err != nil {
				if ctx.Err() == nil {
					a.log.WithError(err).Warn("Frame failed")
				}

				return
			}

			if limit := a.cfg.Frame.MaxFrames; limit > 0 && a.frames.Load() >= limit {
				a.doneOnce.Do(func() { close(a.done) })

				return
			}
		}
	}
}

// runFrame records one frame. Every stage goroutine has closed its zones
// before the frame is merged.
func (a *agent) runFrame(ctx context.Context) error {
	defer a.frames.Add(1)
	defer a.profiler.Frame().End()
	defer a.profiler.Zone("frame", profiler.WithCategory("main")).End()

	if a.workload == nil {
		return nil
	}

	return a.workload.RunFrame(ctx)
}

func (a *agent) handleFrame(summary profiler.FrameSummary, events []profiler.Event) {
	a.health.ObserveFrame(summary)

	if len(a.sinks) == 0 {
		return
	}

	frame := export.NewFrame(summary, events, a.profiler.ThreadName)

	for _, s := range a.sinks {
		a.sections.Time("sink/"+s.Name(), func() { s.HandleFrame(frame) })
	}
}
