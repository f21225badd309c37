package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// ChromeConfig configures the Chrome trace writer.
type ChromeConfig struct {
	// Enabled enables the Chrome trace sink.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Path is the destination file. A "{frame}" placeholder is replaced
	// with the frame index.
	Path string `yaml:"path" toml:"path"`

	// Every writes one frame out of every N. Defaults to 1.
	Every int `yaml:"every" toml:"every"`
}

// Validate validates the configuration.
func (c *ChromeConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Path == "" {
		return errors.New("chrome path is required when enabled")
	}

	if c.Every < 0 {
		return errors.New("chrome every must not be negative")
	}

	return nil
}

// chromeEvent is one entry of the Trace Event Format.
type chromeEvent struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat,omitempty"`
	Ph   string         `json:"ph"`
	Ts   float64        `json:"ts"`
	Dur  float64        `json:"dur,omitempty"`
	Pid  uint32         `json:"pid"`
	Tid  uint64         `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

type chromeTrace struct {
	TraceEvents     []chromeEvent `json:"traceEvents"`
	DisplayTimeUnit string        `json:"displayTimeUnit"`
}

// ChromeTraceWriter writes frames in the Chrome Trace Event Format, loadable
// in chrome://tracing and Perfetto.
type ChromeTraceWriter struct {
	cfg ChromeConfig
	pid uint32
}

var _ Writer = (*ChromeTraceWriter)(nil)

// NewChromeTraceWriter creates a new Chrome trace writer.
func NewChromeTraceWriter(cfg ChromeConfig) *ChromeTraceWriter {
	pid, err := safecast.Conv[uint32](os.Getpid())
	if err != nil {
		pid = 1
	}

	return &ChromeTraceWriter{cfg: cfg, pid: pid}
}

// Name returns the writer name.
func (w *ChromeTraceWriter) Name() string {
	return "chrome"
}

// WriteFrame writes the frame as one trace file.
func (w *ChromeTraceWriter) WriteFrame(_ context.Context, f Frame) error {
	data, err := json.Marshal(w.trace(f))
	if err != nil {
		return fmt.Errorf("encoding chrome trace: %w", err)
	}

	path := strings.ReplaceAll(w.cfg.Path, FramePlaceholder, strconv.FormatUint(f.Index, 10))

	return writeAtomic(path, data)
}

// trace converts a frame into trace events. Timestamps are microseconds
// since the Unix epoch when the frame start is known, frame-relative
// otherwise.
func (w *ChromeTraceWriter) trace(f Frame) chromeTrace {
	var base float64
	if !f.Start.IsZero() {
		base = float64(f.Start.UnixNano()) / 1e3
	}

	threads := make(map[uint64]string, 8)
	events := make([]chromeEvent, 0, len(f.Records)+8)

	for _, r := range f.Records {
		threads[r.ThreadID] = r.ThreadName

		events = append(events, chromeEvent{
			Name: r.Name,
			Cat:  r.Category,
			Ph:   "X",
			Ts:   base + r.StartMs*1e3,
			Dur:  r.DurationMs * 1e3,
			Pid:  w.pid,
			Tid:  r.ThreadID,
			Args: map[string]any{
				"color": fmt.Sprintf("#%08X", r.Color),
				"frame": f.Index,
			},
		})
	}

	ids := make([]uint64, 0, len(threads))
	for id := range threads {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		events = append(events, chromeEvent{
			Name: "thread_name",
			Ph:   "M",
			Pid:  w.pid,
			Tid:  id,
			Args: map[string]any{"name": threads[id]},
		})
	}

	return chromeTrace{
		TraceEvents:     events,
		DisplayTimeUnit: "ms",
	}
}
