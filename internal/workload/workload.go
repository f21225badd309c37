// Package workload drives a synthetic multi-goroutine render loop so the
// profiler has something to record.
package workload

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/chronoprof/internal/profiler"
)

// ErrNotStarted is returned by RunFrame before Start.
var ErrNotStarted = errors.New("workload not started")

type job struct {
	ctx  context.Context
	done chan<- struct{}
}

type worker struct {
	stage StageConfig
	rng   *rand.Rand
	jobs  chan job
}

// Workload runs every configured stage once per frame, each on its own
// named goroutine, and waits for all of them before returning.
type Workload struct {
	log     logrus.FieldLogger
	p       *profiler.Profiler
	workers []*worker
	sleep   func(context.Context, time.Duration)

	cancel context.CancelFunc
	group  *errgroup.Group
	// stopped is done once the stage goroutines are told to exit.
	stopped <-chan struct{}
}

// New creates a workload recording into p.
func New(log logrus.FieldLogger, p *profiler.Profiler, cfg Config) *Workload {
	w := &Workload{
		log:     log.WithField("component", "workload"),
		p:       p,
		workers: make([]*worker, 0, len(cfg.Stages)),
		sleep:   sleepContext,
	}

	for i, stage := range cfg.Stages {
		if stage.Thread == "" {
			stage.Thread = stage.Name
		}

		w.workers = append(w.workers, &worker{
			stage: stage,
			rng:   rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
			jobs:  make(chan job),
		})
	}

	return w
}

// Stages returns the number of stage goroutines.
func (w *Workload) Stages() int {
	return len(w.workers)
}

// Start launches one goroutine per stage.
func (w *Workload) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(w.workers), 1))

	w.stopped = gctx.Done()

	for _, wk := range w.workers {
		g.Go(func() error {
			return w.run(gctx, wk)
		})
	}

	w.group = g

	w.log.WithField("stages", len(w.workers)).Info("Workload started")

	return nil
}

// Stop stops the stage goroutines and waits for them to exit.
func (w *Workload) Stop() error {
	if w.cancel == nil {
		return nil
	}

	w.cancel()

	if err := w.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// RunFrame hands one frame of work to every stage and blocks until all of
// them have closed their zones.
//
// Cancelling ctx stops handing out work and cuts the running stages short,
// but RunFrame still waits for every stage that already took a job, so the
// frame can be merged safely after it returns.
func (w *Workload) RunFrame(ctx context.Context) error {
	if w.group == nil {
		return ErrNotStarted
	}

	done := make(chan struct{}, len(w.workers))

	var (
		dispatched int
		err        error
	)

dispatch:
	for _, wk := range w.workers {
		select {
		case wk.jobs <- job{ctx: ctx, done: done}:
			dispatched++
		case <-ctx.Done():
			err = ctx.Err()

			break dispatch
		case <-w.stopped:
			err = context.Canceled

			break dispatch
		}
	}

	// A stage that took a job always reports back, even when stopping.
	for range dispatched {
		<-done
	}

	if err == nil {
		err = ctx.Err()
	}

	return err
}

func (w *Workload) run(ctx context.Context, wk *worker) error {
	w.p.SetThreadName(wk.stage.Thread)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-wk.jobs:
			// The stage stops early if either the frame or the workload is
			// cancelled.
			jctx, cancel := context.WithCancel(j.ctx)
			stop := context.AfterFunc(ctx, cancel)

			w.runStage(jctx, wk)

			stop()
			cancel()

			j.done <- struct{}{}
		}
	}
}

// runStage records the stage zone with its children nested inside. The
// children split the stage's duration evenly with the stage body.
func (w *Workload) runStage(ctx context.Context, wk *worker) {
	s := wk.stage

	defer w.p.Zone(s.Name, profiler.WithColor(s.stageColor()), profiler.WithCategory(s.Category)).End()

	total := s.Mean
	if s.Jitter > 0 {
		total += time.Duration(wk.rng.Int64N(int64(2*s.Jitter)+1)) - s.Jitter
	}

	share := total / time.Duration(len(s.Children)+1)

	for _, child := range s.Children {
		z := w.p.Zone(child, profiler.WithColor(s.stageColor()), profiler.WithCategory(s.Category))
		w.sleep(ctx, share)
		z.End()
	}

	w.sleep(ctx, share)
}

func (s StageConfig) stageColor() uint32 {
	if s.Color == 0 {
		return profiler.DefaultColor
	}

	return s.Color
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
