package profiler

import "time"

// ThreadID identifies the goroutine that recorded an event. It is the
// runtime goroutine id, which the runtime never reuses.
type ThreadID uint64

const (
	// UnnamedThread is returned by ThreadName for ids that never set a name.
	UnnamedThread = "<unnamed>"

	// DefaultColor is opaque white, packed as 0xRRGGBBAA.
	DefaultColor uint32 = 0xFFFFFFFF

	// DefaultCapacity bounds the events one goroutine may record per frame.
	DefaultCapacity = 4096

	// unfinalized is the DurationMs of a zone that has not ended yet.
	unfinalized = -1.0
)

// Event is one timed zone.
//
// StartMs is the offset from the enclosing frame start and DurationMs the
// elapsed time, both in milliseconds. An event only leaves its goroutine's
// log once finalized, so every merged event has DurationMs >= 0.
type Event struct {
	Name       string
	StartMs    float64
	DurationMs float64
	ThreadID   ThreadID
	Color      uint32
	Category   string

	// startNs is the absolute start on the profiler clock.
	startNs int64
}

// Finalized reports whether the zone has ended.
func (e *Event) Finalized() bool {
	return e.DurationMs >= 0
}

// EndMs returns the frame-relative end of the zone.
func (e *Event) EndMs() float64 {
	return e.StartMs + e.DurationMs
}

func nsToMs(ns int64) float64 {
	return float64(ns) / float64(time.Millisecond)
}
