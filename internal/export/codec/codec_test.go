package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	// Repetitive NDJSON compresses well with every codec.
	payload := bytes.Repeat([]byte(`{"name":"render","startMs":0.5,"durationMs":3.5,"threadId":7}`+"\n"), 32)

	for _, c := range []Codec{Gzip, Zstd, Zlib, Snappy} {
		t.Run(string(c), func(t *testing.T) {
			compressed, err := c.Encode(payload)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(payload))

			out, err := c.Decode(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestCodec_None(t *testing.T) {
	for _, c := range []Codec{None, ""} {
		data := []byte("plain")

		out, err := c.Encode(data)
		require.NoError(t, err)
		assert.Equal(t, data, out)

		out, err = c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, data, out)
		assert.Empty(t, c.ContentEncoding())
	}
}

func TestCodec_CorruptInput(t *testing.T) {
	for _, c := range []Codec{Gzip, Zstd, Zlib, Snappy} {
		_, err := c.Decode([]byte("definitely not compressed"))
		assert.Error(t, err, string(c))
	}
}

func TestParse(t *testing.T) {
	c, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, c)

	c, err = Parse("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)

	_, err = Parse("lzma")
	assert.ErrorContains(t, err, "unsupported codec")

	_, err = Codec("lzma").Encode([]byte("x"))
	assert.Error(t, err)
}

func TestForPath(t *testing.T) {
	tests := map[string]Codec{
		"frame.json":        None,
		"frame.json.gz":     Gzip,
		"frame.msgpack.zst": Zstd,
		"frame.json.zz":     Zlib,
		"/tmp/a/frame.sz":   Snappy,
		"frame.gz.json":     None,
	}

	for path, want := range tests {
		assert.Equal(t, want, ForPath(path), path)
	}
}

func TestContentEncoding(t *testing.T) {
	tests := []struct {
		codec    Codec
		encoding string
	}{
		{codec: Gzip, encoding: "gzip"},
		{codec: Zstd, encoding: "zstd"},
		{codec: Zlib, encoding: "deflate"},
		{codec: Snappy, encoding: "snappy"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.encoding, tt.codec.ContentEncoding())

		back, err := FromContentEncoding(tt.encoding)
		require.NoError(t, err)
		assert.Equal(t, tt.codec, back)
	}

	c, err := FromContentEncoding("identity")
	require.NoError(t, err)
	assert.Equal(t, None, c)

	_, err = FromContentEncoding("br")
	assert.Error(t, err)
}
