package aggregated

import (
	"sync/atomic"
	"time"
)

// Bucket upper bounds for zone durations. The last bucket is unbounded.
var bucketBounds = [numBuckets - 1]time.Duration{
	10 * time.Microsecond,
	50 * time.Microsecond,
	100 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

const numBuckets = 10

// Histogram is a fixed 10 bucket histogram of zone durations.
// All operations are atomic and safe for concurrent use.
type Histogram struct {
	buckets [numBuckets]atomic.Uint64
}

// Add records a duration in the matching bucket.
func (h *Histogram) Add(d time.Duration) {
	h.buckets[bucketIndex(d)].Add(1)
}

// Snapshot returns the current bucket counts.
func (h *Histogram) Snapshot() [numBuckets]uint64 {
	var result [numBuckets]uint64
	for i := range h.buckets {
		result[i] = h.buckets[i].Load()
	}

	return result
}

// Reset returns the current bucket counts and resets them to zero.
func (h *Histogram) Reset() [numBuckets]uint64 {
	var result [numBuckets]uint64
	for i := range h.buckets {
		result[i] = h.buckets[i].Swap(0)
	}

	return result
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}

	return numBuckets - 1
}

// BucketBounds returns the upper bound of each bucket. The last entry is
// zero, meaning unbounded.
func BucketBounds() [numBuckets]time.Duration {
	var out [numBuckets]time.Duration

	copy(out[:], bucketBounds[:])

	return out
}
