package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/export"
)

// RecordLine is the NDJSON form of one exported record.
type RecordLine struct {
	export.Record

	Frame          uint64 `json:"frame"`
	FrameStart     string `json:"frameStart,omitempty"`
	MetaClientName string `json:"metaClientName,omitempty"`
}

// FrameWriter queues every record of a frame on a batch processor that
// POSTs them as NDJSON.
type FrameWriter struct {
	log  logrus.FieldLogger
	cfg  Config
	proc *processor.BatchItemProcessor[RecordLine]
}

var _ export.Writer = (*FrameWriter)(nil)

// NewFrameWriter creates a new HTTP frame writer.
func NewFrameWriter(log logrus.FieldLogger, cfg Config) (*FrameWriter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	if !cfg.Enabled {
		return nil, errors.New("http writer is disabled")
	}

	shipping := processor.ShippingMethodAsync
	if cfg.Delivery == DeliverySync {
		shipping = processor.ShippingMethodSync
	}

	proc, err := processor.NewBatchItemProcessor[RecordLine](
		newBatchSender(log, cfg),
		"chronoprof_http_frames",
		log,
		processor.WithMaxQueueSize(cfg.Batch.QueueRecords),
		processor.WithMaxExportBatchSize(cfg.Batch.MaxRecords),
		processor.WithBatchTimeout(cfg.Batch.Timeout),
		processor.WithExportTimeout(cfg.RequestTimeout),
		processor.WithWorkers(cfg.Batch.Workers),
		processor.WithShippingMethod(shipping),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batch processor: %w", err)
	}

	return &FrameWriter{
		log:  log.WithField("component", "http_writer"),
		cfg:  cfg,
		proc: proc,
	}, nil
}

// Name returns the writer name.
func (w *FrameWriter) Name() string {
	return "http"
}

// Start starts the batch processor workers.
func (w *FrameWriter) Start(ctx context.Context) error {
	w.proc.Start(ctx)

	w.log.WithField("address", w.cfg.Address).Info("HTTP frame writer started")

	return nil
}

// WriteFrame queues the frame's records. With async delivery the error
// only reports queueing failures. With sync delivery it waits for the
// batches holding the records and reports their send errors.
func (w *FrameWriter) WriteFrame(ctx context.Context, f export.Frame) error {
	lines := toLines(f, w.cfg.MetaClientName)
	if len(lines) == 0 {
		return nil
	}

	if err := w.proc.Write(ctx, lines); err != nil {
		return fmt.Errorf("queueing %d records: %w", len(lines), err)
	}

	return nil
}

// Stop flushes queued records and stops the processor.
func (w *FrameWriter) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequestTimeout)
	defer cancel()

	return w.proc.Shutdown(ctx)
}

func toLines(f export.Frame, metaClientName string) []*RecordLine {
	var start string
	if !f.Start.IsZero() {
		start = f.Start.UTC().Format(time.RFC3339Nano)
	}

	lines := make([]*RecordLine, 0, len(f.Records))

	for _, r := range f.Records {
		lines = append(lines, &RecordLine{
			Record:         r,
			Frame:          f.Index,
			FrameStart:     start,
			MetaClientName: metaClientName,
		})
	}

	return lines
}
