package aggregated

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/chronoprof/internal/export"
)

// Collector keeps a rolling history of merged frames and all-time
// statistics per zone name. Update and the read methods may be called
// from different goroutines.
type Collector struct {
	maxHistory int

	mu      sync.RWMutex
	history []export.Frame
	next    int

	totalFrames atomic.Uint64

	zonesMu sync.RWMutex
	zones   map[string]*ZoneAggregate
}

// NewCollector creates a collector that retains the last historySize
// frames. A non-positive size keeps only the latest frame.
func NewCollector(historySize int) *Collector {
	if historySize <= 0 {
		historySize = 1
	}

	return &Collector{
		maxHistory: historySize,
		history:    make([]export.Frame, 0, historySize),
		zones:      make(map[string]*ZoneAggregate, 32),
	}
}

// Update adds a frame to the history, evicting the oldest one when full,
// and folds its records into the all-time statistics.
func (c *Collector) Update(f export.Frame) {
	c.mu.Lock()
	if len(c.history) < c.maxHistory {
		c.history = append(c.history, f)
	} else {
		c.history[c.next] = f
	}

	c.next = (c.next + 1) % c.maxHistory
	c.mu.Unlock()

	for _, r := range f.Records {
		getOrCreate(&c.zonesMu, c.zones, r.Name).Add(msToDuration(r.DurationMs))
	}

	c.totalFrames.Add(1)
}

// TotalFrames returns the number of frames seen since creation. It keeps
// growing after the history is full.
func (c *Collector) TotalFrames() uint64 {
	return c.totalFrames.Load()
}

// Frames returns the retained frames, oldest first.
func (c *Collector) Frames() []export.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]export.Frame, 0, len(c.history))

	if len(c.history) < c.maxHistory {
		return append(out, c.history...)
	}

	out = append(out, c.history[c.next:]...)

	return append(out, c.history[:c.next]...)
}

// Latest returns the most recent frame.
func (c *Collector) Latest() (export.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) == 0 {
		return export.Frame{}, false
	}

	idx := (c.next - 1 + c.maxHistory) % c.maxHistory
	if len(c.history) < c.maxHistory {
		idx = len(c.history) - 1
	}

	return c.history[idx], true
}

// Stats returns all-time statistics per zone, slowest average first.
func (c *Collector) Stats() []ZoneStats {
	c.zonesMu.RLock()
	out := make([]ZoneStats, 0, len(c.zones))

	for name, agg := range c.zones {
		out = append(out, agg.Snapshot(name))
	}
	c.zonesMu.RUnlock()

	sortStats(out)

	return out
}

// WindowStats returns statistics over the retained history only.
func (c *Collector) WindowStats() []ZoneStats {
	zones := make(map[string]*ZoneAggregate, 32)

	for _, f := range c.Frames() {
		for _, r := range f.Records {
			agg, ok := zones[r.Name]
			if !ok {
				agg = NewZoneAggregate()
				zones[r.Name] = agg
			}

			agg.Add(msToDuration(r.DurationMs))
		}
	}

	out := make([]ZoneStats, 0, len(zones))
	for name, agg := range zones {
		out = append(out, agg.Snapshot(name))
	}

	sortStats(out)

	return out
}

func sortStats(stats []ZoneStats) {
	slices.SortFunc(stats, func(a, b ZoneStats) int {
		if a.Avg != b.Avg {
			if a.Avg > b.Avg {
				return -1
			}

			return 1
		}

		return strings.Compare(a.Name, b.Name)
	})
}

// getOrCreate returns the aggregate for key, creating it if needed.
// Uses double-checked locking.
func getOrCreate[K comparable](
	mu *sync.RWMutex,
	m map[K]*ZoneAggregate,
	key K,
) *ZoneAggregate {
	mu.RLock()
	agg, ok := m[key]
	mu.RUnlock()

	if ok {
		return agg
	}

	mu.Lock()
	defer mu.Unlock()

	if agg, ok = m[key]; ok {
		return agg
	}

	agg = NewZoneAggregate()
	m[key] = agg

	return agg
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
