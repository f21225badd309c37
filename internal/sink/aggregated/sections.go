package aggregated

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SectionTimer times named sections by explicit Start and End calls,
// independent of frames and goroutines. A section may be timed any number
// of times; its durations accumulate.
type SectionTimer struct {
	log logrus.FieldLogger
	now func() time.Time

	mu     sync.Mutex
	starts map[string]time.Time

	zonesMu sync.RWMutex
	zones   map[string]*ZoneAggregate
}

// NewSectionTimer creates an empty section timer.
func NewSectionTimer(log logrus.FieldLogger) *SectionTimer {
	return &SectionTimer{
		log:    log.WithField("component", "sections"),
		now:    time.Now,
		starts: make(map[string]time.Time, 16),
		zones:  make(map[string]*ZoneAggregate, 16),
	}
}

// Start marks the beginning of section. Starting a section that is already
// running restarts it.
func (t *SectionTimer) Start(section string) {
	now := t.now()

	t.mu.Lock()
	t.starts[section] = now
	t.mu.Unlock()
}

// End records the time since the matching Start. An End without a Start is
// logged and ignored.
func (t *SectionTimer) End(section string) time.Duration {
	now := t.now()

	t.mu.Lock()
	start, ok := t.starts[section]
	delete(t.starts, section)
	t.mu.Unlock()

	if !ok {
		t.log.WithField("section", section).Warn("Section ended without a start")

		return 0
	}

	d := now.Sub(start)
	getOrCreate(&t.zonesMu, t.zones, section).Add(d)

	return d
}

// Time runs fn as section.
func (t *SectionTimer) Time(section string, fn func()) {
	t.Start(section)
	defer t.End(section)

	fn()
}

// Stats returns the statistics of every section, slowest average first.
func (t *SectionTimer) Stats() []ZoneStats {
	t.zonesMu.RLock()
	out := make([]ZoneStats, 0, len(t.zones))

	for name, agg := range t.zones {
		out = append(out, agg.Snapshot(name))
	}
	t.zonesMu.RUnlock()

	sortStats(out)

	return out
}

// Report writes the average duration and call count of every section.
func (t *SectionTimer) Report(w io.Writer) error {
	var b strings.Builder

	b.WriteString("--- Section Report ---\n")

	for _, s := range t.Stats() {
		fmt.Fprintf(&b, "%-30s: avg %.3f ms over %d calls\n", s.Name, durationMs(s.Avg), s.Count)
	}

	_, err := io.WriteString(w, b.String())

	return err
}

// WriteCSV writes the section statistics as CSV.
func (t *SectionTimer) WriteCSV(w io.Writer) error {
	return WriteCSV(w, t.Stats())
}
