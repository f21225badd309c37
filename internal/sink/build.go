package sink

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/export"
	httpexport "github.com/ethpandaops/chronoprof/internal/export/http"
	"github.com/ethpandaops/chronoprof/internal/sink/aggregated"
)

// Build creates every enabled sink. Console output of the aggregated sink
// goes to out.
func Build(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
	out io.Writer,
) ([]Sink, error) {
	sinks := make([]Sink, 0, 6)

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(log, cfg.Log))
	}

	if cfg.File.Enabled {
		sinks = append(sinks, NewExportSink(
			log, export.NewFileWriter(cfg.File), cfg.File.Every, 0, health,
		))
	}

	if cfg.Chrome.Enabled {
		sinks = append(sinks, NewExportSink(
			log, export.NewChromeTraceWriter(cfg.Chrome), cfg.Chrome.Every, 0, health,
		))
	}

	if cfg.HTTP.Enabled {
		w, err := httpexport.NewFrameWriter(log, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("creating http writer: %w", err)
		}

		sinks = append(sinks, NewExportSink(log, w, cfg.HTTP.Every, 0, health))
	}

	if cfg.ClickHouse.Enabled {
		sinks = append(sinks, NewExportSink(
			log, export.NewClickHouseWriter(log, cfg.ClickHouse), cfg.ClickHouse.Every, 0, health,
		))
	}

	if cfg.Aggregated.Enabled {
		sinks = append(sinks, aggregated.New(log, cfg.Aggregated, out))
	}

	return sinks, nil
}
