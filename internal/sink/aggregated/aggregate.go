package aggregated

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Percentile histogram range in microseconds: 1us to 60s, 3 significant
// figures.
const (
	hdrMinMicros  = 1
	hdrMaxMicros  = 60_000_000
	hdrSigFigures = 3
)

// ZoneAggregate accumulates the durations recorded for one zone name.
// Sum, count, min, max and the bucket histogram are atomic. The HDR
// histogram is not safe for concurrent use and sits behind a mutex.
type ZoneAggregate struct {
	sum       atomic.Int64
	count     atomic.Uint64
	min       atomic.Int64
	max       atomic.Int64
	histogram Histogram

	mu  sync.Mutex
	hdr *hdrhistogram.Histogram
}

// NewZoneAggregate creates an empty aggregate.
func NewZoneAggregate() *ZoneAggregate {
	a := &ZoneAggregate{
		hdr: hdrhistogram.New(hdrMinMicros, hdrMaxMicros, hdrSigFigures),
	}
	a.min.Store(math.MaxInt64)
	a.max.Store(math.MinInt64)

	return a
}

// Add records one zone duration.
func (a *ZoneAggregate) Add(d time.Duration) {
	val := int64(d)
	if val < 0 {
		val = 0
	}

	a.sum.Add(val)
	a.count.Add(1)
	a.histogram.Add(time.Duration(val))

	for {
		oldMin := a.min.Load()
		if val >= oldMin || a.min.CompareAndSwap(oldMin, val) {
			break
		}
	}

	for {
		oldMax := a.max.Load()
		if val <= oldMax || a.max.CompareAndSwap(oldMax, val) {
			break
		}
	}

	micros := min(max(val/int64(time.Microsecond), hdrMinMicros), hdrMaxMicros)

	a.mu.Lock()
	// Values are clamped into range, so RecordValue cannot fail.
	_ = a.hdr.RecordValue(micros)
	a.mu.Unlock()
}

// ZoneStats is a point-in-time view of one zone's durations.
type ZoneStats struct {
	Name      string
	Count     uint64
	Total     time.Duration
	Min       time.Duration
	Max       time.Duration
	Avg       time.Duration
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Histogram [numBuckets]uint64
}

// Snapshot returns the current statistics under the given zone name.
func (a *ZoneAggregate) Snapshot(name string) ZoneStats {
	count := a.count.Load()

	stats := ZoneStats{
		Name:      name,
		Count:     count,
		Total:     time.Duration(a.sum.Load()),
		Histogram: a.histogram.Snapshot(),
	}

	if count == 0 {
		return stats
	}

	stats.Min = time.Duration(a.min.Load())
	stats.Max = time.Duration(a.max.Load())
	stats.Avg = stats.Total / time.Duration(count)

	a.mu.Lock()
	stats.P50 = time.Duration(a.hdr.ValueAtQuantile(50)) * time.Microsecond
	stats.P95 = time.Duration(a.hdr.ValueAtQuantile(95)) * time.Microsecond
	stats.P99 = time.Duration(a.hdr.ValueAtQuantile(99)) * time.Microsecond
	a.mu.Unlock()

	return stats
}
