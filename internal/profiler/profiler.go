package profiler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the phase of the frame lifecycle.
type State uint32

const (
	// StateIdle means no frame is open.
	StateIdle State = iota
	// StateAccumulating means BeginFrame ran and producers may record.
	StateAccumulating
	// StateMerging means EndFrame is copying logs into the merged buffer.
	StateMerging
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateMerging:
		return "merging"
	default:
		return "unknown"
	}
}

// Config configures a Profiler.
type Config struct {
	// Capacity is the maximum number of events one goroutine may record
	// between two merges. Further starts are dropped.
	Capacity int `yaml:"capacity" toml:"capacity"`
	// PruneAfterFrames unregisters goroutines whose log stayed empty for
	// this many consecutive merges. Zero disables pruning.
	PruneAfterFrames int `yaml:"prune_after_frames" toml:"prune_after_frames"`
}

// DefaultConfig returns the default profiler configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: DefaultCapacity,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}

	if c.PruneAfterFrames < 0 {
		return fmt.Errorf("prune_after_frames must not be negative, got %d", c.PruneAfterFrames)
	}

	return nil
}

// FrameSummary describes one completed merge.
type FrameSummary struct {
	// Index is the 1-based number of the frame opened by BeginFrame, or 0
	// if EndFrame ran without a BeginFrame.
	Index uint64
	// Start is the wall time the frame began.
	Start time.Time
	// Duration is the time between BeginFrame and EndFrame.
	Duration time.Duration
	// MergeDuration is the time EndFrame spent merging.
	MergeDuration time.Duration
	// Events is the number of merged events.
	Events int
	// Threads is the number of registered goroutines after the merge.
	Threads int
	// Pruned is the number of goroutines unregistered by this merge.
	Pruned int
	// Counts holds the non-zero counters accumulated since the last merge.
	Counts map[Counter]uint64
}

// FrameObserver is called after every EndFrame, outside the merge lock.
type FrameObserver func(summary FrameSummary, events []Event)

// Option configures a Profiler.
type Option func(*Profiler)

// WithClock replaces the monotonic clock. now returns the time elapsed
// since an arbitrary fixed origin and must never decrease.
func WithClock(now func() time.Duration) Option {
	return func(p *Profiler) {
		p.now = now
	}
}

// Profiler owns the goroutine registry, the per-frame merged event buffer
// and the frame lifecycle.
type Profiler struct {
	cfg      Config
	registry *Registry
	stats    *Stats

	epoch time.Time
	now   func() time.Duration

	// frameStartNs is read by recording goroutines when finalizing zones.
	frameStartNs atomic.Int64
	state        atomic.Uint32

	// mu is the merge lock. It guards everything below it.
	mu         sync.Mutex
	merged     []Event
	frameIndex uint64
	openIndex  uint64
	totals     [maxCounter + 1]uint64

	observersMu sync.RWMutex
	observers   []FrameObserver
}

// New creates a Profiler. A zero Capacity falls back to DefaultCapacity.
func New(cfg Config, opts ...Option) *Profiler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	p := &Profiler{
		cfg:      cfg,
		registry: NewRegistry(cfg.Capacity),
		stats:    NewStats(),
		epoch:    time.Now(),
		merged:   make([]Event, 0, cfg.Capacity),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.now == nil {
		epoch := p.epoch
		p.now = func() time.Duration { return time.Since(epoch) }
	}

	return p
}

// Registry returns the goroutine registry.
func (p *Profiler) Registry() *Registry {
	return p.registry
}

// Capacity returns the per-goroutine event bound.
func (p *Profiler) Capacity() int {
	return p.cfg.Capacity
}

// State returns the current frame lifecycle state.
func (p *Profiler) State() State {
	return State(p.state.Load())
}

// OnFrameEnd registers an observer called after every EndFrame with the
// summary and the merged events. The slice is only valid until the next
// BeginFrame and must not be modified.
func (p *Profiler) OnFrameEnd(fn FrameObserver) {
	p.observersMu.Lock()
	defer p.observersMu.Unlock()

	p.observers = append(p.observers, fn)
}

// BeginFrame records the frame start time and clears the merged buffer.
// Only the orchestrating goroutine may call it.
func (p *Profiler) BeginFrame() {
	start := int64(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameStartNs.Store(start)
	p.merged = p.merged[:0]
	p.frameIndex++
	p.openIndex = p.frameIndex
	p.state.Store(uint32(StateAccumulating))
}

// EndFrame merges every registered goroutine's finalized events into the
// merged buffer and resets the logs. Open zones are discarded, as are
// zones that started before the current frame.
//
// All producers must have stopped recording before EndFrame is called.
// Calling it without a prior BeginFrame merges against the clock origin.
func (p *Profiler) EndFrame() FrameSummary {
	p.mu.Lock()

	p.state.Store(uint32(StateMerging))

	mergeStart := int64(p.now())
	frameStart := p.frameStartNs.Load()

	p.merged = p.merged[:0]

	var total drainResult

	p.registry.each(func(l *threadLog) {
		var res drainResult

		p.merged, res = l.drainInto(p.merged, frameStart)
		total.open += res.open
		total.stale += res.stale
		total.recorded += res.recorded
		total.dropped += res.dropped
		total.unmatched += res.unmatched
	})

	pruned := p.registry.prune(p.cfg.PruneAfterFrames)

	p.stats.RecordN(CounterRecorded, total.recorded)
	p.stats.RecordN(CounterDropped, total.dropped)
	p.stats.RecordN(CounterUnmatchedEnds, total.unmatched)
	p.stats.RecordN(CounterOpenDiscarded, uint64(total.open))
	p.stats.RecordN(CounterStale, uint64(total.stale))
	p.stats.RecordN(CounterMerged, uint64(len(p.merged)))
	p.stats.Record(CounterFrames)

	counts := p.stats.Snapshot()
	for c, v := range counts {
		p.totals[c] += v
	}

	mergeEnd := int64(p.now())

	summary := FrameSummary{
		Index:         p.openIndex,
		Start:         p.epoch.Add(time.Duration(frameStart)),
		Duration:      time.Duration(mergeStart - frameStart),
		MergeDuration: time.Duration(mergeEnd - mergeStart),
		Events:        len(p.merged),
		Threads:       p.registry.Len(),
		Pruned:        pruned,
		Counts:        counts,
	}

	p.openIndex = 0
	events := p.merged[:len(p.merged):len(p.merged)]

	p.state.Store(uint32(StateIdle))
	p.mu.Unlock()

	p.notify(summary, events)

	return summary
}

// Events returns the events merged by the last EndFrame. The slice is a
// read-only view that is only valid until the next BeginFrame.
func (p *Profiler) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.merged[:len(p.merged):len(p.merged)]
}

// Snapshot returns a copy of the events merged by the last EndFrame.
func (p *Profiler) Snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.merged))
	copy(out, p.merged)

	return out
}

// Totals returns every counter accumulated across all completed merges.
func (p *Profiler) Totals() map[Counter]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[Counter]uint64, maxCounter+1)
	for c := range p.totals {
		out[Counter(c)] = p.totals[c]
	}

	return out
}

// PushStart opens a zone on the calling goroutine. When the goroutine's log
// is full the zone is dropped and counted.
func (p *Profiler) PushStart(name string, color uint32, category string) {
	p.pushStart(p.registry.current(), name, color, category)
}

// PushEnd finalizes the most recently started open zone on the calling
// goroutine. Without an open zone it does nothing beyond counting.
func (p *Profiler) PushEnd() {
	l, ok := p.registry.lookup()
	if !ok {
		// Never registered, so no log to count against.
		p.stats.Record(CounterUnmatchedEnds)

		return
	}

	p.pushEnd(l)
}

// SetThreadName names the calling goroutine.
func (p *Profiler) SetThreadName(name string) {
	p.registry.SetThreadName(name)
}

// ThreadName returns the name of id, or UnnamedThread.
func (p *Profiler) ThreadName(id ThreadID) string {
	return p.registry.ThreadName(id)
}

func (p *Profiler) pushStart(l *threadLog, name string, color uint32, category string) bool {
	return l.pushStart(name, color, category, int64(p.now()))
}

func (p *Profiler) pushEnd(l *threadLog) {
	l.pushEnd(int64(p.now()), p.frameStartNs.Load())
}

func (p *Profiler) notify(summary FrameSummary, events []Event) {
	p.observersMu.RLock()
	observers := p.observers
	p.observersMu.RUnlock()

	for _, fn := range observers {
		fn(summary, events)
	}
}
