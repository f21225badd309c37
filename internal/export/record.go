package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/chronoprof/internal/profiler"
)

// ErrExport wraps every failure returned by ExportSnapshot.
var ErrExport = errors.New("export failed")

// Record is the serialized form of one merged event.
type Record struct {
	Name       string  `json:"name" msgpack:"name"`
	StartMs    float64 `json:"startMs" msgpack:"startMs"`
	DurationMs float64 `json:"durationMs" msgpack:"durationMs"`
	ThreadID   uint64  `json:"threadId" msgpack:"threadId"`
	ThreadName string  `json:"threadName" msgpack:"threadName"`
	Color      uint32  `json:"color" msgpack:"color"`
	Category   string  `json:"category" msgpack:"category"`
}

// Frame is one merged frame ready to be written.
type Frame struct {
	// Index is the frame number, 0 when unknown.
	Index uint64
	// Start is the wall time the frame began.
	Start time.Time
	// Duration is the time between frame begin and end.
	Duration time.Duration
	// Records holds one entry per merged event, in merge order.
	Records []Record
}

// Writer persists frames to an external destination.
type Writer interface {
	// Name identifies the writer in logs and metrics.
	Name() string
	// WriteFrame writes one frame. It must not retain f.Records.
	WriteFrame(ctx context.Context, f Frame) error
}

// Source is the read side of a profiler.
type Source interface {
	Events() []profiler.Event
	ThreadName(id profiler.ThreadID) string
}

var _ Source = (*profiler.Profiler)(nil)

// NewRecords converts merged events into records, resolving each thread id
// to its name. Names are looked up once per distinct id.
func NewRecords(events []profiler.Event, threadName func(profiler.ThreadID) string) []Record {
	records := make([]Record, 0, len(events))
	names := make(map[profiler.ThreadID]string, 8)

	for i := range events {
		e := &events[i]

		name, ok := names[e.ThreadID]
		if !ok {
			name = threadName(e.ThreadID)
			names[e.ThreadID] = name
		}

		records = append(records, Record{
			Name:       e.Name,
			StartMs:    e.StartMs,
			DurationMs: e.DurationMs,
			ThreadID:   uint64(e.ThreadID),
			ThreadName: name,
			Color:      e.Color,
			Category:   e.Category,
		})
	}

	return records
}

// NewFrame builds a Frame from a merge summary and its events.
func NewFrame(
	summary profiler.FrameSummary,
	events []profiler.Event,
	threadName func(profiler.ThreadID) string,
) Frame {
	return Frame{
		Index:    summary.Index,
		Start:    summary.Start,
		Duration: summary.Duration,
		Records:  NewRecords(events, threadName),
	}
}

// ExportSnapshot writes the events of the last merge to w. It only reads
// from src. Any failure is wrapped in ErrExport and the merged events stay
// readable for a retry.
func ExportSnapshot(ctx context.Context, src Source, w Writer) error {
	f := Frame{
		Records: NewRecords(src.Events(), src.ThreadName),
	}

	if err := w.WriteFrame(ctx, f); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExport, w.Name(), err)
	}

	return nil
}

// ExportJSON writes the events of the last merge to path as an indented
// JSON array of records.
func ExportJSON(ctx context.Context, src Source, path string) error {
	return ExportSnapshot(ctx, src, NewFileWriter(FileConfig{Path: path}))
}
