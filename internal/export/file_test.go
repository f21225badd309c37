package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func sampleFrame() Frame {
	return Frame{
		Index:    3,
		Start:    time.Unix(1700000000, 0),
		Duration: 16 * time.Millisecond,
		Records: []Record{
			{Name: "physics", StartMs: 1, DurationMs: 2, ThreadID: 10, ThreadName: "sim", Color: 0xFF0000FF, Category: "sim"},
			{Name: "render", StartMs: 0.5, DurationMs: 3.5, ThreadID: 11, ThreadName: "gpu", Color: 0xFFFFFFFF},
			{Name: "present", StartMs: 4, DurationMs: 0.25, ThreadID: 11, ThreadName: "gpu", Color: 0xFFFFFFFF},
		},
	}
}

func TestFileWriter_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		encoding string
	}{
		{name: "json", file: "frame.json", encoding: EncodingJSON},
		{name: "json gzip", file: "frame.json.gz", encoding: EncodingJSON},
		{name: "json zstd", file: "frame.json.zst", encoding: EncodingJSON},
		{name: "json snappy", file: "frame.json.sz", encoding: EncodingJSON},
		{name: "json zlib", file: "frame.json.zz", encoding: EncodingJSON},
		{name: "msgpack", file: "frame.msgpack", encoding: EncodingMsgpack},
		{name: "msgpack zstd", file: "frame.msgpack.zst", encoding: EncodingMsgpack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			w := NewFileWriter(FileConfig{Path: path, Encoding: tt.encoding})

			frame := sampleFrame()
			require.NoError(t, w.WriteFrame(context.Background(), frame))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, frame.Records, got)
		})
	}
}

func TestFileWriter_IndentedJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	w := NewFileWriter(FileConfig{Path: path})

	require.NoError(t, w.WriteFrame(context.Background(), sampleFrame()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(data), "[\n  {\n    \"name\": \"physics\"")

	doc := string(data)
	assert.Equal(t, int64(3), gjson.Get(doc, "#").Int())
	assert.Equal(t, "render", gjson.Get(doc, "1.name").String())
	assert.Equal(t, 3.5, gjson.Get(doc, "1.durationMs").Float())
	assert.Equal(t, uint64(11), gjson.Get(doc, "1.threadId").Uint())
	assert.Equal(t, "gpu", gjson.Get(doc, "1.threadName").String())
	assert.Equal(t, uint64(0xFFFFFFFF), gjson.Get(doc, "1.color").Uint())
	assert.True(t, gjson.Get(doc, "1.category").Exists(), "empty category is still written")
}

func TestFileWriter_EmptyFrameWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	w := NewFileWriter(FileConfig{Path: path})

	require.NoError(t, w.WriteFrame(context.Background(), Frame{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileWriter_FramePlaceholder(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(FileConfig{Path: filepath.Join(dir, "frame-{frame}.json")})

	require.NoError(t, w.WriteFrame(context.Background(), sampleFrame()))

	_, err := os.Stat(filepath.Join(dir, "frame-3.json"))
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "frame-9.json"), w.PathFor(9))
}

func TestFileWriter_ReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	w := NewFileWriter(FileConfig{Path: path})

	require.NoError(t, w.WriteFrame(context.Background(), sampleFrame()))
	require.NoError(t, w.WriteFrame(context.Background(), Frame{Records: sampleFrame().Records[:1]}))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileWriter_FileIsWorldReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	w := NewFileWriter(FileConfig{Path: path})

	require.NoError(t, w.WriteFrame(context.Background(), sampleFrame()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestReadFile_RejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing field", doc: `[{"name":"a","startMs":0,"durationMs":1,"threadId":1,"threadName":"x","color":0}]`},
		{name: "negative duration", doc: `[{"name":"a","startMs":0,"durationMs":-1,"threadId":1,"threadName":"x","color":0,"category":""}]`},
		{name: "wrong type", doc: `[{"name":1,"startMs":0,"durationMs":1,"threadId":1,"threadName":"x","color":0,"category":""}]`},
		{name: "color overflow", doc: `[{"name":"a","startMs":0,"durationMs":1,"threadId":1,"threadName":"x","color":4294967296,"category":""}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o600))

			_, err := ReadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestFileConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FileConfig
		wantErr bool
	}{
		{name: "disabled", cfg: FileConfig{}},
		{name: "valid", cfg: FileConfig{Enabled: true, Path: "out.json"}},
		{name: "msgpack", cfg: FileConfig{Enabled: true, Path: "out.mp", Encoding: EncodingMsgpack}},
		{name: "missing path", cfg: FileConfig{Enabled: true}, wantErr: true},
		{name: "bad encoding", cfg: FileConfig{Enabled: true, Path: "x", Encoding: "xml"}, wantErr: true},
		{name: "negative every", cfg: FileConfig{Enabled: true, Path: "x", Every: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
