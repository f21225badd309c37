// Package codec compresses snapshot files and HTTP bodies. File extensions
// and Content-Encoding values both map onto the same set of codecs.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Codec names a compression algorithm.
type Codec string

const (
	None   Codec = "none"
	Gzip   Codec = "gzip"
	Zstd   Codec = "zstd"
	Zlib   Codec = "zlib"
	Snappy Codec = "snappy"
)

var extensions = map[string]Codec{
	".gz":  Gzip,
	".zst": Zstd,
	".zz":  Zlib,
	".sz":  Snappy,
}

// The zstd encoder and decoder are costly to build and safe for concurrent
// EncodeAll/DecodeAll calls, so one of each is shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Parse returns the codec named s. An empty name is None.
func Parse(s string) (Codec, error) {
	switch c := Codec(s); c {
	case "":
		return None, nil
	case None, Gzip, Zstd, Zlib, Snappy:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", s)
	}
}

// ForPath picks the codec from the file extension: .gz, .zst, .zz or .sz.
// Any other extension is None.
func ForPath(path string) Codec {
	if c, ok := extensions[filepath.Ext(path)]; ok {
		return c
	}

	return None
}

// FromContentEncoding maps an HTTP Content-Encoding value to a codec.
func FromContentEncoding(v string) (Codec, error) {
	switch v {
	case "", "identity":
		return None, nil
	case "deflate":
		return Zlib, nil
	default:
		return Parse(v)
	}
}

// ContentEncoding returns the HTTP Content-Encoding value, empty for None.
func (c Codec) ContentEncoding() string {
	switch c {
	case None, "":
		return ""
	case Zlib:
		return "deflate"
	default:
		return string(c)
	}
}

// Encode compresses data.
func (c Codec) Encode(data []byte) ([]byte, error) {
	switch c {
	case None, "":
		return data, nil
	case Gzip:
		return encodeStream(data, func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) })
	case Zlib:
		return encodeStream(data, func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) })
	case Zstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(c))
	}
}

// Decode reverses Encode.
func (c Codec) Decode(data []byte) ([]byte, error) {
	switch c {
	case None, "":
		return data, nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()

		return io.ReadAll(zr)
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer zr.Close()

		return io.ReadAll(zr)
	case Zstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}

		return dec.DecodeAll(data, nil)
	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decode: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(c))
	}
}

func encodeStream(data []byte, newWriter func(io.Writer) io.WriteCloser) ([]byte, error) {
	var buf bytes.Buffer

	w := newWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
