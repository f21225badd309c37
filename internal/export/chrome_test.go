package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestChromeTraceWriter_WriteFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace-{frame}.json")
	w := NewChromeTraceWriter(ChromeConfig{Path: path})

	frame := sampleFrame()
	require.NoError(t, w.WriteFrame(context.Background(), frame))

	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "trace-3.json"))
	require.NoError(t, err)

	doc := string(data)
	require.True(t, gjson.Valid(doc))

	assert.Equal(t, "ms", gjson.Get(doc, "displayTimeUnit").String())

	// Three complete events followed by one metadata event per thread.
	assert.Equal(t, int64(5), gjson.Get(doc, "traceEvents.#").Int())
	assert.Equal(t, int64(3), gjson.Get(doc, `traceEvents.#(ph=="X")#`).Get("#").Int())

	base := float64(frame.Start.UnixNano()) / 1e3

	physics := gjson.Get(doc, `traceEvents.#(name=="physics")`)
	require.True(t, physics.Exists())
	assert.Equal(t, "X", physics.Get("ph").String())
	assert.Equal(t, "sim", physics.Get("cat").String())
	assert.InDelta(t, base+1000, physics.Get("ts").Float(), 1)
	assert.InDelta(t, 2000, physics.Get("dur").Float(), 1e-6)
	assert.Equal(t, uint64(10), physics.Get("tid").Uint())
	assert.Equal(t, "#FF0000FF", physics.Get("args.color").String())

	gpu := gjson.Get(doc, `traceEvents.#(ph=="M")#|#(tid==11)`)
	require.True(t, gpu.Exists())
	assert.Equal(t, "thread_name", gpu.Get("name").String())
	assert.Equal(t, "gpu", gpu.Get("args.name").String())
}

func TestChromeTraceWriter_RelativeTimestampsWithoutStart(t *testing.T) {
	w := NewChromeTraceWriter(ChromeConfig{})

	trace := w.trace(Frame{Records: []Record{{Name: "z", StartMs: 1.5, DurationMs: 1, ThreadID: 1}}})

	require.Len(t, trace.TraceEvents, 2)
	assert.InDelta(t, 1500, trace.TraceEvents[0].Ts, 1e-9)
	assert.Equal(t, "M", trace.TraceEvents[1].Ph)
}

func TestChromeConfig_Validate(t *testing.T) {
	assert.NoError(t, (&ChromeConfig{}).Validate())
	assert.NoError(t, (&ChromeConfig{Enabled: true, Path: "t.json"}).Validate())
	assert.Error(t, (&ChromeConfig{Enabled: true}).Validate())
	assert.Error(t, (&ChromeConfig{Enabled: true, Path: "t.json", Every: -2}).Validate())
}

func TestClickHouseWriter_Rows(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{MetaClientName: "bench-1"})
	assert.Equal(t, "frame_events", w.cfg.Table)

	rows, err := w.rows(sampleFrame())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, uint64(3), rows[0].FrameIndex)
	assert.Equal(t, uint64(2_000_000), rows[0].DurationNs)
	assert.Equal(t, uint64(3_500_000), rows[1].DurationNs)
	assert.Equal(t, "bench-1", rows[2].MetaClientName)
	assert.Equal(t, "gpu", rows[2].ThreadName)
}

func TestClickHouseWriter_RowsRejectNegativeDuration(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{})

	_, err := w.rows(Frame{Records: []Record{{Name: "bad", DurationMs: -1}}})
	assert.Error(t, err)
}

func TestClickHouseWriter_WriteBeforeStart(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{})

	err := w.WriteFrame(context.Background(), sampleFrame())
	assert.Error(t, err)
	assert.NoError(t, w.Stop())
}
