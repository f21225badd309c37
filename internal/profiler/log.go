package profiler

import "sync/atomic"

// threadLog is the bounded event buffer of one goroutine.
//
// Only the owning goroutine appends to or finalizes a log. The merge reads
// and resets it while the owner is expected to be idle at the frame barrier.
type threadLog struct {
	id ThreadID

	// events never grows past its initial capacity.
	events []Event

	// open holds indexes of unfinalized events in start order. The last
	// entry is always the most recently started open zone.
	open []int

	// idleFrames counts consecutive merges that found the log empty.
	idleFrames int

	// Written by the owner, swapped out by the merge. Each log has its own
	// counters so producers never share a cache line.
	recorded  atomic.Uint64
	dropped   atomic.Uint64
	unmatched atomic.Uint64
}

func newThreadLog(id ThreadID, capacity int) *threadLog {
	return &threadLog{
		id:     id,
		events: make([]Event, 0, capacity),
		open:   make([]int, 0, min(capacity, 64)),
	}
}

// pushStart appends an open zone started at nowNs. It reports false when
// the log is full and the zone was dropped.
func (l *threadLog) pushStart(name string, color uint32, category string, nowNs int64) bool {
	if len(l.events) >= cap(l.events) {
		l.dropped.Add(1)

		return false
	}

	l.recorded.Add(1)

	l.open = append(l.open, len(l.events))
	l.events = append(l.events, Event{
		Name:       name,
		DurationMs: unfinalized,
		ThreadID:   l.id,
		Color:      color,
		Category:   category,
		startNs:    nowNs,
	})

	return true
}

// pushEnd finalizes the most recently started open zone. It reports false
// when no zone is open.
func (l *threadLog) pushEnd(nowNs, frameStartNs int64) bool {
	n := len(l.open)
	if n == 0 {
		l.unmatched.Add(1)

		return false
	}

	idx := l.open[n-1]
	l.open = l.open[:n-1]

	e := &l.events[idx]
	e.StartMs = nsToMs(e.startNs - frameStartNs)
	e.DurationMs = max(nsToMs(nowNs-e.startNs), 0)

	return true
}

// drainResult tallies what a single drain did with a log's contents.
type drainResult struct {
	merged int
	open   int
	stale  int

	recorded  uint64
	dropped   uint64
	unmatched uint64
}

// drainInto appends the log's finalized events that started at or after
// frameStartNs to dst, then resets the log. Open zones and zones left over
// from an earlier frame are counted and discarded.
func (l *threadLog) drainInto(dst []Event, frameStartNs int64) ([]Event, drainResult) {
	res := drainResult{
		recorded:  l.recorded.Swap(0),
		dropped:   l.dropped.Swap(0),
		unmatched: l.unmatched.Swap(0),
	}

	if len(l.events) == 0 {
		l.idleFrames++

		return dst, res
	}

	l.idleFrames = 0

	for i := range l.events {
		e := &l.events[i]

		switch {
		case !e.Finalized():
			res.open++
		case e.startNs < frameStartNs:
			res.stale++
		default:
			dst = append(dst, *e)
			res.merged++
		}
	}

	l.events = l.events[:0]
	l.open = l.open[:0]

	return dst, res
}

// size returns the number of events currently held, open or finalized.
func (l *threadLog) size() int {
	return len(l.events)
}
