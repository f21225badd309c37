package export

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ethpandaops/chronoprof/internal/export/codec"
)

// Encoding constants for snapshot files.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// FramePlaceholder in a file path is replaced with the frame index.
const FramePlaceholder = "{frame}"

//go:embed schema/records.schema.json
var recordsSchema string

// FileConfig configures the snapshot file writer.
type FileConfig struct {
	// Enabled enables the file writer sink.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Path is the destination file. A "{frame}" placeholder is replaced
	// with the frame index; without it every write replaces the file.
	// The extension selects compression: .gz, .zst, .zz or .sz.
	Path string `yaml:"path" toml:"path"`

	// Encoding is json or msgpack. Defaults to json.
	Encoding string `yaml:"encoding" toml:"encoding"`

	// Every writes one frame out of every N. Defaults to 1.
	Every int `yaml:"every" toml:"every"`
}

// Validate validates the configuration.
func (c *FileConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Path == "" {
		return errors.New("file path is required when enabled")
	}

	switch c.Encoding {
	case "", EncodingJSON, EncodingMsgpack:
	default:
		return fmt.Errorf("invalid file encoding: %s", c.Encoding)
	}

	if c.Every < 0 {
		return errors.New("file every must not be negative")
	}

	return nil
}

// FileWriter writes each frame's records to a file, replacing it
// atomically.
type FileWriter struct {
	cfg FileConfig
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter creates a new snapshot file writer.
func NewFileWriter(cfg FileConfig) *FileWriter {
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	return &FileWriter{cfg: cfg}
}

// Name returns the writer name.
func (w *FileWriter) Name() string {
	return "file"
}

// PathFor returns the file path used for frame index.
func (w *FileWriter) PathFor(index uint64) string {
	return strings.ReplaceAll(w.cfg.Path, FramePlaceholder, strconv.FormatUint(index, 10))
}

// WriteFrame encodes the frame's records and replaces the destination.
func (w *FileWriter) WriteFrame(_ context.Context, f Frame) error {
	records := f.Records
	if records == nil {
		records = []Record{}
	}

	var (
		data []byte
		err  error
	)

	switch w.cfg.Encoding {
	case EncodingMsgpack:
		data, err = msgpack.Marshal(records)
	default:
		data, err = json.MarshalIndent(records, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	path := w.PathFor(f.Index)

	c := codec.ForPath(path)

	data, err = c.Encode(data)
	if err != nil {
		return fmt.Errorf("compressing %s with %s: %w", path, c, err)
	}

	return writeAtomic(path, data)
}

// ReadFile reads a snapshot written by FileWriter. Compression is chosen
// by extension and the encoding is detected from the payload. JSON
// payloads are validated against the records schema.
func ReadFile(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c := codec.ForPath(path)

	data, err := c.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s with %s: %w", path, c, err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeJSONRecords(trimmed)
	}

	var records []Record
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding msgpack records: %w", err)
	}

	return records, nil
}

func decodeJSONRecords(data []byte) ([]Record, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("records.schema.json", strings.NewReader(recordsSchema)); err != nil {
		return nil, fmt.Errorf("loading records schema: %w", err)
	}

	schema, err := compiler.Compile("records.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling records schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding json records: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validating records: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding json records: %w", err)
	}

	return records, nil
}

// snapshotFileMode is the permission of exported snapshot files.
const snapshotFileMode os.FileMode = 0o644

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, ".chronoprof-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}

	tmp := f.Name()

	// CreateTemp uses 0600.
	if err := f.Chmod(snapshotFileMode); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("setting mode of %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming to %s: %w", path, err)
	}

	return nil
}
