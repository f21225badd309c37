package profiler

import "runtime"

// goroutineID returns the id of the calling goroutine.
//
// The id is parsed from the first line of the goroutine's own stack
// ("goroutine 123 [running]:"), which works on every platform and Go
// version without reaching into runtime internals.
//
// This is the dominant cost of recording, roughly a microsecond per call.
// Zone pays it once per zone: the returned Zone keeps its log, so End does
// no lookup. PushStart and PushEnd each pay it. Reading the id straight out
// of the runtime's g struct is faster but ties the build to one runtime
// layout per Go release.
func goroutineID() uint64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)

	return parseGoroutineID(buf[:n])
}

// parseGoroutineID extracts the numeric id from a stack header.
// Returns 0 if the header is malformed.
func parseGoroutineID(buf []byte) uint64 {
	const prefix = "goroutine "

	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var id uint64

	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}

		id = id*10 + uint64(c-'0')
	}

	return id
}

// CurrentThreadID returns the ThreadID of the calling goroutine.
func CurrentThreadID() ThreadID {
	return ThreadID(goroutineID())
}
