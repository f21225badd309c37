// Package profiler records named, timed zones from many goroutines and
// merges them into a single per-frame timeline.
//
// # Recording
//
// Each goroutine that records a zone gets its own bounded log, found
// through a goroutine-id keyed registry. Appending a zone and finalizing it
// take no lock:
//
//	func update(p *profiler.Profiler) {
//		defer p.Zone("update").End()
//		simulate()
//	}
//
// Zones nest; ends resolve against the most recently started open zone on
// the calling goroutine, so they must be issued in reverse start order.
// A log that reaches its capacity drops further starts and counts them.
//
// # Frames
//
// One orchestrating goroutine drives the frame lifecycle:
//
//	f := p.Frame()          // BeginFrame: Idle -> Accumulating
//	runWorkersAndWait()     // every producer must be done before End
//	summary := f.End()      // EndFrame: Accumulating -> Merging -> Idle
//	events := p.Events()    // valid until the next BeginFrame
//
// EndFrame takes the merge lock, copies every registered log into the merged
// buffer and resets the logs. The lock does not protect a log from its own
// goroutine: producers that are still recording while EndFrame runs race
// with the merge. Zones still open at merge time are discarded.
package profiler
