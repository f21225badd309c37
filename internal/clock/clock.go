package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethpandaops/ethwallclock"
	"github.com/sirupsen/logrus"
)

// framesPerEpoch groups frames for the underlying wall clock. Nothing in
// the pacer depends on epochs.
const framesPerEpoch = 60

// FrameChangedFunc is called when the pacer advances to a new frame.
type FrameChangedFunc func(frame uint64)

// Pacer ticks at a fixed frame cadence measured from an epoch.
type Pacer interface {
	// Start begins pacing, invoking callbacks on every frame change.
	Start(ctx context.Context) error
	// Stop terminates pacing.
	Stop() error
	// Interval returns the frame interval.
	Interval() time.Duration
	// CurrentFrame returns the current frame number.
	CurrentFrame() uint64
	// FrameStartTime returns the wall-clock start time of the given frame.
	FrameStartTime(frame uint64) time.Time
	// IntoFrame returns how far the current frame has progressed.
	IntoFrame() time.Duration
	// OnFrameChanged registers a callback for frame transitions.
	OnFrameChanged(fn FrameChangedFunc)
}

type pacer struct {
	log       logrus.FieldLogger
	epoch     time.Time
	interval  time.Duration
	wallclock *ethwallclock.EthereumBeaconChain

	mu        sync.RWMutex
	callbacks []FrameChangedFunc
}

// New creates a pacer whose frame 0 starts at epoch.
func New(
	log logrus.FieldLogger,
	epoch time.Time,
	interval time.Duration,
) (Pacer, error) {
	if interval <= 0 {
		return nil, errors.New("frame interval must be > 0")
	}

	wc := ethwallclock.NewEthereumBeaconChain(epoch, interval, framesPerEpoch)

	return &pacer{
		log:       log.WithField("component", "pacer"),
		epoch:     epoch,
		interval:  interval,
		wallclock: wc,
		callbacks: make([]FrameChangedFunc, 0, 4),
	}, nil
}

func (p *pacer) Start(_ context.Context) error {
	// ethwallclock runs each callback on its own goroutine.
	p.wallclock.OnSlotChanged(func(slot ethwallclock.Slot) {
		frame := slot.Number()

		p.mu.RLock()
		callbacks := p.callbacks
		p.mu.RUnlock()

		for _, fn := range callbacks {
			fn(frame)
		}
	})

	p.log.WithFields(logrus.Fields{
		"epoch":    p.epoch,
		"interval": p.interval,
	}).Info("Frame pacer started")

	return nil
}

func (p *pacer) Stop() error {
	if p.wallclock != nil {
		p.wallclock.Stop()
	}

	return nil
}

func (p *pacer) Interval() time.Duration {
	return p.interval
}

func (p *pacer) CurrentFrame() uint64 {
	return p.wallclock.Slots().Current().Number()
}

func (p *pacer) FrameStartTime(frame uint64) time.Time {
	return p.epoch.Add(time.Duration(frame) * p.interval)
}

func (p *pacer) IntoFrame() time.Duration {
	slot := p.wallclock.Slots().Current()

	return time.Since(slot.TimeWindow().Start())
}

func (p *pacer) OnFrameChanged(fn FrameChangedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callbacks = append(p.callbacks[:len(p.callbacks):len(p.callbacks)], fn)
}
