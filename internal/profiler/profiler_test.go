package profiler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	ns atomic.Int64
}

func (c *fakeClock) Now() time.Duration {
	return time.Duration(c.ns.Load())
}

func (c *fakeClock) Set(d time.Duration) {
	c.ns.Store(int64(d))
}

// runOn runs fn on a fresh goroutine and waits for it.
func runOn(fn func()) {
	done := make(chan struct{})

	go func() {
		defer close(done)

		fn()
	}()

	<-done
}

func newTestProfiler(t *testing.T, cfg Config) (*Profiler, *fakeClock) {
	t.Helper()

	clk := &fakeClock{}

	return New(cfg, WithClock(clk.Now)), clk
}

func eventsByName(events []Event) map[string]Event {
	out := make(map[string]Event, len(events))
	for _, e := range events {
		out[e.Name] = e
	}

	return out
}

func TestProfiler_TwoThreadFrame(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	clk.Set(10 * time.Millisecond)
	p.BeginFrame()

	var physicsTID, renderTID ThreadID

	runOn(func() {
		physicsTID = CurrentThreadID()

		clk.Set(11 * time.Millisecond)
		p.PushStart("physics", DefaultColor, "")
		clk.Set(13 * time.Millisecond)
		p.PushEnd()
	})

	runOn(func() {
		renderTID = CurrentThreadID()

		clk.Set(10*time.Millisecond + 500*time.Microsecond)
		p.PushStart("render", 0xFF0000FF, "gpu")
		clk.Set(14 * time.Millisecond)
		p.PushEnd()
	})

	clk.Set(15 * time.Millisecond)
	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "physics", events[0].Name)
	assert.Equal(t, "render", events[1].Name)

	physics := events[0]
	assert.InDelta(t, 1.0, physics.StartMs, 1e-9)
	assert.InDelta(t, 2.0, physics.DurationMs, 1e-9)
	assert.Equal(t, physicsTID, physics.ThreadID)
	assert.Equal(t, DefaultColor, physics.Color)
	assert.Empty(t, physics.Category)

	render := events[1]
	assert.InDelta(t, 0.5, render.StartMs, 1e-9)
	assert.InDelta(t, 3.5, render.DurationMs, 1e-9)
	assert.Equal(t, renderTID, render.ThreadID)
	assert.Equal(t, uint32(0xFF0000FF), render.Color)
	assert.Equal(t, "gpu", render.Category)
	assert.NotEqual(t, physicsTID, renderTID)

	assert.Equal(t, uint64(1), summary.Index)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 2, summary.Threads)
	assert.Equal(t, 5*time.Millisecond, summary.Duration)
	assert.Equal(t, uint64(2), summary.Counts[CounterRecorded])
	assert.Equal(t, uint64(2), summary.Counts[CounterMerged])
	assert.Equal(t, uint64(1), summary.Counts[CounterFrames])
	assert.Equal(t, StateIdle, p.State())
}

func TestProfiler_BalancedNestedZones(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()

	runOn(func() {
		clk.Set(1 * time.Millisecond)
		p.PushStart("outer", DefaultColor, "")
		clk.Set(2 * time.Millisecond)
		p.PushStart("inner", DefaultColor, "")
		clk.Set(4 * time.Millisecond)
		p.PushEnd()
		clk.Set(7 * time.Millisecond)
		p.PushEnd()
	})

	p.EndFrame()

	events := eventsByName(p.Events())
	require.Len(t, events, 2)

	outer := events["outer"]
	inner := events["inner"]

	assert.InDelta(t, 1.0, outer.StartMs, 1e-9)
	assert.InDelta(t, 6.0, outer.DurationMs, 1e-9)
	assert.InDelta(t, 2.0, inner.StartMs, 1e-9)
	assert.InDelta(t, 2.0, inner.DurationMs, 1e-9)

	// The inner zone is contained in the outer zone.
	assert.GreaterOrEqual(t, inner.StartMs, outer.StartMs)
	assert.LessOrEqual(t, inner.EndMs(), outer.EndMs())
}

func TestProfiler_OutOfOrderEndFinalizesLatestZone(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()

	runOn(func() {
		clk.Set(1 * time.Millisecond)
		p.PushStart("a", DefaultColor, "")
		clk.Set(2 * time.Millisecond)
		p.PushStart("b", DefaultColor, "")

		// Meant to end "a", but ends resolve against the latest open zone.
		clk.Set(3 * time.Millisecond)
		p.PushEnd()
		clk.Set(9 * time.Millisecond)
		p.PushEnd()
	})

	p.EndFrame()

	events := eventsByName(p.Events())
	require.Len(t, events, 2)
	assert.InDelta(t, 1.0, events["b"].DurationMs, 1e-9)
	assert.InDelta(t, 8.0, events["a"].DurationMs, 1e-9)
}

func TestProfiler_CapacityBound(t *testing.T) {
	const capacity = 4

	p, _ := newTestProfiler(t, Config{Capacity: capacity})

	p.BeginFrame()

	runOn(func() {
		for range 10 {
			p.PushStart("zone", DefaultColor, "")
			p.PushEnd()
		}
	})

	summary := p.EndFrame()

	assert.Len(t, p.Events(), capacity)
	assert.Equal(t, uint64(capacity), summary.Counts[CounterRecorded])
	assert.Equal(t, uint64(6), summary.Counts[CounterDropped])
	// Each dropped start leaves its end without an open zone.
	assert.Equal(t, uint64(6), summary.Counts[CounterUnmatchedEnds])
}

func TestProfiler_CapacityResetsEachFrame(t *testing.T) {
	p, _ := newTestProfiler(t, Config{Capacity: 2})

	record := func() {
		for range 3 {
			p.PushStart("zone", DefaultColor, "")
			p.PushEnd()
		}
	}

	for range 3 {
		p.BeginFrame()
		record()
		p.EndFrame()

		assert.Len(t, p.Events(), 2)
	}
}

func TestProfiler_UnmatchedEndIsNoop(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()

	runOn(func() {
		// Unregistered goroutine.
		p.PushEnd()

		l := p.registry.current()
		p.PushStart("zone", DefaultColor, "")
		p.PushEnd()
		assert.Equal(t, 1, l.size())

		p.PushEnd()
		assert.Equal(t, 1, l.size())
		assert.True(t, l.events[0].Finalized())
	})

	summary := p.EndFrame()

	assert.Len(t, p.Events(), 1)
	assert.Equal(t, uint64(2), summary.Counts[CounterUnmatchedEnds])
}

func TestProfiler_OpenZonesAreDiscarded(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()

	runOn(func() {
		p.PushStart("open", DefaultColor, "")
		p.PushStart("closed", DefaultColor, "")
		p.PushEnd()
	})

	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "closed", events[0].Name)
	assert.Equal(t, uint64(1), summary.Counts[CounterOpenDiscarded])

	for _, e := range events {
		assert.GreaterOrEqual(t, e.DurationMs, 0.0)
	}
}

func TestProfiler_FrameIsolation(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	clk.Set(1 * time.Millisecond)
	p.BeginFrame()
	p.PushStart("first", DefaultColor, "")
	p.PushEnd()
	p.EndFrame()
	require.Len(t, p.Events(), 1)

	clk.Set(2 * time.Millisecond)
	p.BeginFrame()
	assert.Empty(t, p.Events(), "BeginFrame clears the merged buffer")
	p.EndFrame()
	assert.Empty(t, p.Events())
}

func TestProfiler_EventsBeforeBeginFrameAreStale(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	clk.Set(1 * time.Millisecond)
	p.PushStart("early", DefaultColor, "")
	p.PushEnd()

	clk.Set(5 * time.Millisecond)
	p.BeginFrame()

	clk.Set(6 * time.Millisecond)
	p.PushStart("late", DefaultColor, "")
	clk.Set(7 * time.Millisecond)
	p.PushEnd()

	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "late", events[0].Name)
	assert.InDelta(t, 1.0, events[0].StartMs, 1e-9)
	assert.Equal(t, uint64(1), summary.Counts[CounterStale])
}

func TestProfiler_EndFrameWithoutBeginFrame(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	clk.Set(2 * time.Millisecond)
	p.PushStart("zone", DefaultColor, "")
	clk.Set(3 * time.Millisecond)
	p.PushEnd()

	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, 1)
	assert.InDelta(t, 2.0, events[0].StartMs, 1e-9)
	assert.Equal(t, uint64(0), summary.Index)
}

func TestProfiler_EndFrameTwiceYieldsEmptySecondMerge(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()
	p.PushStart("zone", DefaultColor, "")
	p.PushEnd()
	p.EndFrame()
	require.Len(t, p.Events(), 1)

	p.EndFrame()
	assert.Empty(t, p.Events())
}

func TestProfiler_SnapshotIsACopy(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()
	p.PushStart("zone", DefaultColor, "")
	p.PushEnd()
	p.EndFrame()

	snap := p.Snapshot()
	require.Len(t, snap, 1)

	p.BeginFrame()
	p.PushStart("other", DefaultColor, "")
	p.PushEnd()
	p.EndFrame()

	assert.Equal(t, "zone", snap[0].Name)
}

func TestProfiler_ConcurrentProducers(t *testing.T) {
	const goroutines = 16
	const zones = 200

	p := New(Config{Capacity: zones})

	p.BeginFrame()

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()

			for range zones {
				z := p.Zone("work")
				z.End()
			}
		}()
	}

	wg.Wait()

	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, goroutines*zones)
	assert.Equal(t, goroutines, summary.Threads)
	assert.Equal(t, uint64(goroutines*zones), summary.Counts[CounterRecorded])
	assert.Zero(t, summary.Counts[CounterDropped])

	perThread := make(map[ThreadID][]Event, goroutines)
	for _, e := range events {
		perThread[e.ThreadID] = append(perThread[e.ThreadID], e)
	}

	require.Len(t, perThread, goroutines)

	// Events of one goroutine are merged contiguously in start order.
	for tid, list := range perThread {
		assert.Len(t, list, zones, "thread %d", tid)

		for i := 1; i < len(list); i++ {
			assert.GreaterOrEqual(t, list[i].StartMs, list[i-1].StartMs)
		}
	}
}

func TestProfiler_ZoneOptions(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	p.BeginFrame()

	func() {
		defer p.Zone("colored", WithColor(0x00FF00FF), WithCategory("ai")).End()
	}()

	p.EndFrame()

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, uint32(0x00FF00FF), events[0].Color)
	assert.Equal(t, "ai", events[0].Category)
}

func TestProfiler_DroppedZoneDoesNotEndParent(t *testing.T) {
	p, clk := newTestProfiler(t, Config{Capacity: 1})

	p.BeginFrame()

	runOn(func() {
		clk.Set(1 * time.Millisecond)
		outer := p.Zone("outer")

		clk.Set(2 * time.Millisecond)
		inner := p.Zone("inner")
		clk.Set(3 * time.Millisecond)
		inner.End()

		clk.Set(5 * time.Millisecond)
		outer.End()
	})

	summary := p.EndFrame()

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "outer", events[0].Name)
	assert.InDelta(t, 4.0, events[0].DurationMs, 1e-9)
	assert.Equal(t, uint64(1), summary.Counts[CounterDropped])
	assert.Zero(t, summary.Counts[CounterUnmatchedEnds])
}

func TestProfiler_FrameScope(t *testing.T) {
	p, clk := newTestProfiler(t, DefaultConfig())

	clk.Set(1 * time.Millisecond)
	f := p.Frame()
	assert.Equal(t, StateAccumulating, p.State())

	p.Zone("zone").End()

	clk.Set(4 * time.Millisecond)
	summary := f.End()

	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 3*time.Millisecond, summary.Duration)
	assert.Equal(t, 1, summary.Events)
}

func TestProfiler_OnFrameEnd(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	var (
		got       []FrameSummary
		gotEvents int
	)

	p.OnFrameEnd(func(summary FrameSummary, events []Event) {
		// The merge lock is released before observers run.
		assert.Equal(t, StateIdle, p.State())

		got = append(got, summary)
		gotEvents += len(events)
	})

	for range 3 {
		f := p.Frame()
		p.Zone("zone").End()
		f.End()
	}

	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[2].Index)
	assert.Equal(t, 3, gotEvents)
}

func TestProfiler_PruneIdleThreads(t *testing.T) {
	p, _ := newTestProfiler(t, Config{Capacity: 8, PruneAfterFrames: 2})

	var worker ThreadID

	p.BeginFrame()
	runOn(func() {
		worker = CurrentThreadID()
		p.SetThreadName("worker")
		p.Zone("zone").End()
	})
	p.EndFrame()
	require.Equal(t, 1, p.Registry().Len())

	p.BeginFrame()
	summary := p.EndFrame()
	assert.Zero(t, summary.Pruned)
	assert.Equal(t, 1, p.Registry().Len())

	p.BeginFrame()
	summary = p.EndFrame()
	assert.Equal(t, 1, summary.Pruned)
	assert.Equal(t, 0, p.Registry().Len())

	// Names survive pruning.
	assert.Equal(t, "worker", p.ThreadName(worker))
}

func TestProfiler_NoPruneByDefault(t *testing.T) {
	p, _ := newTestProfiler(t, DefaultConfig())

	runOn(func() { p.Zone("zone").End() })

	for range 10 {
		p.BeginFrame()
		p.EndFrame()
	}

	assert.Equal(t, 1, p.Registry().Len())
}

func TestProfiler_Totals(t *testing.T) {
	p, _ := newTestProfiler(t, Config{Capacity: 1})

	for range 2 {
		p.BeginFrame()
		p.PushStart("a", DefaultColor, "")
		p.PushStart("b", DefaultColor, "")
		p.PushEnd()
		p.EndFrame()
	}

	totals := p.Totals()
	assert.Equal(t, uint64(2), totals[CounterRecorded])
	assert.Equal(t, uint64(2), totals[CounterDropped])
	assert.Equal(t, uint64(2), totals[CounterMerged])
	assert.Equal(t, uint64(2), totals[CounterFrames])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "prune enabled", cfg: Config{Capacity: 16, PruneAfterFrames: 3}},
		{name: "zero capacity", cfg: Config{}, wantErr: true},
		{name: "negative prune", cfg: Config{Capacity: 1, PruneAfterFrames: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "accumulating", StateAccumulating.String())
	assert.Equal(t, "merging", StateMerging.String())
	assert.Equal(t, "unknown", State(99).String())
}
