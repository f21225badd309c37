package profiler

import (
	"sort"
	"sync"
)

// Registry tracks every goroutine that has recorded a zone together with
// optional human-readable goroutine names.
//
// Lookups on the recording path go through a sync.Map and take no lock.
// Registration appends to an ordered list under mu, which the merge walks.
type Registry struct {
	capacity int

	logs sync.Map // uint64 goroutine id -> *threadLog

	mu      sync.Mutex
	ordered []*threadLog

	namesMu sync.RWMutex
	names   map[ThreadID]string
}

// NewRegistry creates a registry whose logs hold up to capacity events.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Registry{
		capacity: capacity,
		names:    make(map[ThreadID]string, 16),
	}
}

// RegisterCurrentThread registers the calling goroutine if needed and
// returns its id. Repeated calls are no-ops.
func (r *Registry) RegisterCurrentThread() ThreadID {
	return r.current().id
}

// SetThreadName associates name with the calling goroutine, replacing any
// previous name. The goroutine does not need to be registered.
func (r *Registry) SetThreadName(name string) {
	id := CurrentThreadID()

	r.namesMu.Lock()
	r.names[id] = name
	r.namesMu.Unlock()
}

// ThreadName returns the name set for id, or UnnamedThread.
func (r *Registry) ThreadName(id ThreadID) string {
	r.namesMu.RLock()
	defer r.namesMu.RUnlock()

	if name, ok := r.names[id]; ok {
		return name
	}

	return UnnamedThread
}

// ThreadNames returns a copy of every assigned name.
func (r *Registry) ThreadNames() map[ThreadID]string {
	r.namesMu.RLock()
	defer r.namesMu.RUnlock()

	out := make(map[ThreadID]string, len(r.names))
	for id, name := range r.names {
		out[id] = name
	}

	return out
}

// Len returns the number of registered goroutines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ordered)
}

// Threads returns the registered ids in ascending order.
func (r *Registry) Threads() []ThreadID {
	r.mu.Lock()
	ids := make([]ThreadID, 0, len(r.ordered))

	for _, l := range r.ordered {
		ids = append(ids, l.id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// current returns the calling goroutine's log, registering it on first use.
func (r *Registry) current() *threadLog {
	gid := goroutineID()

	if v, ok := r.logs.Load(gid); ok {
		return v.(*threadLog)
	}

	// Only the owning goroutine registers its own id, so there is no
	// competing Store for gid.
	l := newThreadLog(ThreadID(gid), r.capacity)

	r.mu.Lock()
	r.ordered = append(r.ordered, l)
	r.mu.Unlock()

	r.logs.Store(gid, l)

	return l
}

// lookup returns the calling goroutine's log without registering it.
func (r *Registry) lookup() (*threadLog, bool) {
	v, ok := r.logs.Load(goroutineID())
	if !ok {
		return nil, false
	}

	return v.(*threadLog), true
}

// each calls fn for every registered log in registration order.
func (r *Registry) each(fn func(*threadLog)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.ordered {
		fn(l)
	}
}

// prune unregisters logs that stayed empty for at least idleFrames merges
// and returns how many were removed. Names are kept, so a goroutine that
// records again is re-registered under the same id and name.
func (r *Registry) prune(idleFrames int) int {
	if idleFrames <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.ordered[:0]
	removed := 0

	for _, l := range r.ordered {
		if l.idleFrames >= idleFrames && l.size() == 0 {
			r.logs.Delete(uint64(l.id))
			removed++

			continue
		}

		kept = append(kept, l)
	}

	// Clear the tail so pruned logs can be collected.
	for i := len(kept); i < len(r.ordered); i++ {
		r.ordered[i] = nil
	}

	r.ordered = kept

	return removed
}
