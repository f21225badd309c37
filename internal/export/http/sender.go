package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/version"
)

// Request headers describing the frames a batch covers.
const (
	HeaderFirstFrame = "X-Chronoprof-First-Frame"
	HeaderLastFrame  = "X-Chronoprof-Last-Frame"
	HeaderRecords    = "X-Chronoprof-Records"
)

const errorBodyLimit = 512

// batchSender POSTs batches of record lines as one NDJSON request each.
type batchSender struct {
	log    logrus.FieldLogger
	cfg    Config
	client *http.Client
}

var _ processor.ItemExporter[RecordLine] = (*batchSender)(nil)

func newBatchSender(log logrus.FieldLogger, cfg Config) *batchSender {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = cfg.DisableKeepAlive

	return &batchSender{
		log: log.WithField("component", "http_sender"),
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// ExportItems sends one batch. An empty batch sends nothing.
func (s *batchSender) ExportItems(ctx context.Context, lines []*RecordLine) error {
	if len(lines) == 0 {
		return nil
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)

	first, last := lines[0].Frame, lines[0].Frame

	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}

		first = min(first, line.Frame)
		last = max(last, line.Frame)
	}

	body, err := s.cfg.Compression.Encode(buf.Bytes())
	if err != nil {
		return fmt.Errorf("compressing batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(HeaderFirstFrame, strconv.FormatUint(first, 10))
	req.Header.Set(HeaderLastFrame, strconv.FormatUint(last, 10))
	req.Header.Set(HeaderRecords, strconv.Itoa(len(lines)))

	if ce := s.cfg.Compression.ContentEncoding(); ce != "" {
		req.Header.Set("Content-Encoding", ce)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending batch of %d records: %w", len(lines), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	s.log.WithFields(logrus.Fields{
		"records":     len(lines),
		"first_frame": first,
		"last_frame":  last,
	}).Debug("Sent batch")

	return nil
}

// Shutdown closes idle connections.
func (s *batchSender) Shutdown(_ context.Context) error {
	s.client.CloseIdleConnections()

	return nil
}
