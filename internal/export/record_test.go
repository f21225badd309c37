package export

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/chronoprof/internal/profiler"
)

type failingWriter struct {
	err error
}

func (w *failingWriter) Name() string { return "failing" }

func (w *failingWriter) WriteFrame(_ context.Context, _ Frame) error { return w.err }

type captureWriter struct {
	frames []Frame
}

func (w *captureWriter) Name() string { return "capture" }

func (w *captureWriter) WriteFrame(_ context.Context, f Frame) error {
	w.frames = append(w.frames, f)

	return nil
}

// recordFrame runs one frame where each named goroutine records its zones.
func recordFrame(t *testing.T, p *profiler.Profiler, threads map[string][]string) {
	t.Helper()

	p.BeginFrame()

	var wg sync.WaitGroup
	wg.Add(len(threads))

	for thread, zones := range threads {
		go func() {
			defer wg.Done()

			p.SetThreadName(thread)

			for _, zone := range zones {
				p.Zone(zone, profiler.WithCategory(thread)).End()
			}
		}()
	}

	wg.Wait()
	p.EndFrame()
}

func TestNewRecords_ResolvesThreadNames(t *testing.T) {
	events := []profiler.Event{
		{Name: "a", StartMs: 1, DurationMs: 2, ThreadID: 1, Color: 0xFF, Category: "x"},
		{Name: "b", StartMs: 3, DurationMs: 4, ThreadID: 2},
		{Name: "c", StartMs: 5, DurationMs: 6, ThreadID: 1},
	}

	lookups := 0
	names := func(id profiler.ThreadID) string {
		lookups++

		if id == 1 {
			return "main"
		}

		return profiler.UnnamedThread
	}

	records := NewRecords(events, names)
	require.Len(t, records, 3)

	assert.Equal(t, Record{
		Name:       "a",
		StartMs:    1,
		DurationMs: 2,
		ThreadID:   1,
		ThreadName: "main",
		Color:      0xFF,
		Category:   "x",
	}, records[0])
	assert.Equal(t, profiler.UnnamedThread, records[1].ThreadName)
	assert.Equal(t, "main", records[2].ThreadName)
	assert.Equal(t, 2, lookups, "names are resolved once per thread")
}

func TestNewRecords_Empty(t *testing.T) {
	records := NewRecords(nil, func(profiler.ThreadID) string { return "" })

	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestExportSnapshot_WrapsWriterError(t *testing.T) {
	p := profiler.New(profiler.DefaultConfig())
	recordFrame(t, p, map[string][]string{"main": {"update"}})

	cause := errors.New("disk full")

	err := ExportSnapshot(context.Background(), p, &failingWriter{err: cause})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExport)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failing")

	// The merged frame is still readable for a retry.
	w := &captureWriter{}
	require.NoError(t, ExportSnapshot(context.Background(), p, w))
	require.Len(t, w.frames, 1)
	assert.Len(t, w.frames[0].Records, 1)
}

func TestExportSnapshot_EmptyFrame(t *testing.T) {
	p := profiler.New(profiler.DefaultConfig())
	p.BeginFrame()
	p.EndFrame()

	w := &captureWriter{}
	require.NoError(t, ExportSnapshot(context.Background(), p, w))
	require.Len(t, w.frames, 1)
	assert.Empty(t, w.frames[0].Records)
}

func TestExportJSON_RoundTrip(t *testing.T) {
	p := profiler.New(profiler.DefaultConfig())
	recordFrame(t, p, map[string][]string{
		"physics": {"integrate", "collide"},
		"render":  {"cull", "draw", "present"},
	})

	path := filepath.Join(t.TempDir(), "frame.json")
	require.NoError(t, ExportJSON(context.Background(), p, path))

	got, err := ReadFile(path)
	require.NoError(t, err)

	want := NewRecords(p.Events(), p.ThreadName)
	require.Len(t, got, len(want))

	// Order is preserved, which keeps per-thread order too.
	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].StartMs, got[i].StartMs)
		assert.Equal(t, want[i].DurationMs, got[i].DurationMs)
		assert.Equal(t, want[i].ThreadID, got[i].ThreadID)
		assert.Equal(t, want[i].Color, got[i].Color)
		assert.Equal(t, want[i].Category, got[i].Category)
		assert.Equal(t, want[i].Category, got[i].ThreadName)
	}
}

func TestExportJSON_UnwritableDestination(t *testing.T) {
	p := profiler.New(profiler.DefaultConfig())
	recordFrame(t, p, map[string][]string{"main": {"update"}})

	path := filepath.Join(t.TempDir(), "missing", "dir", "frame.json")

	err := ExportJSON(context.Background(), p, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExport)
	assert.Len(t, p.Events(), 1)
}
