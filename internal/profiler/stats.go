package profiler

import "sync/atomic"

// Counter names one of the profiler's bookkeeping counters.
type Counter uint8

const (
	// CounterRecorded counts zone starts accepted into a log.
	CounterRecorded Counter = iota
	// CounterDropped counts zone starts rejected because the log was full.
	CounterDropped
	// CounterUnmatchedEnds counts ends issued with no open zone.
	CounterUnmatchedEnds
	// CounterOpenDiscarded counts zones still open when their log was merged.
	CounterOpenDiscarded
	// CounterStale counts finalized zones that started before the frame.
	CounterStale
	// CounterMerged counts events copied into the merged buffer.
	CounterMerged
	// CounterFrames counts completed merges.
	CounterFrames

	maxCounter = CounterFrames
)

var counterNames = [maxCounter + 1]string{
	CounterRecorded:      "recorded",
	CounterDropped:       "dropped",
	CounterUnmatchedEnds: "unmatched_ends",
	CounterOpenDiscarded: "open_discarded",
	CounterStale:         "stale",
	CounterMerged:        "merged",
	CounterFrames:        "frames",
}

// String returns the snake_case name of the counter.
func (c Counter) String() string {
	if c > maxCounter {
		return "unknown"
	}

	return counterNames[c]
}

// Counters returns every defined counter in declaration order.
func Counters() []Counter {
	out := make([]Counter, 0, maxCounter+1)

	for c := Counter(0); c <= maxCounter; c++ {
		out = append(out, c)
	}

	return out
}

// Stats provides lock-free counters keyed by Counter.
// Snapshot atomically reads and resets all counters, making it
// suitable for per-frame reporting without contention.
type Stats struct {
	counts [maxCounter + 1]atomic.Uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Record increments the given counter by one.
func (s *Stats) Record(c Counter) {
	if c > maxCounter {
		return
	}

	s.counts[c].Add(1)
}

// RecordN increments the given counter by n.
func (s *Stats) RecordN(c Counter, n uint64) {
	if c > maxCounter || n == 0 {
		return
	}

	s.counts[c].Add(n)
}

// Load returns the current value of a counter without resetting it.
func (s *Stats) Load(c Counter) uint64 {
	if c > maxCounter {
		return 0
	}

	return s.counts[c].Load()
}

// Snapshot atomically reads and resets all counters, returning
// a map of only non-zero entries.
func (s *Stats) Snapshot() map[Counter]uint64 {
	result := make(map[Counter]uint64, maxCounter+1)

	for i := range s.counts {
		v := s.counts[i].Swap(0)
		if v > 0 {
			result[Counter(i)] = v
		}
	}

	return result
}
