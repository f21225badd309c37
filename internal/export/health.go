package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/chronoprof/internal/profiler"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr" toml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for profiler health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Profiler core.
	FramesTotal        prometheus.Counter
	CurrentFrame       prometheus.Gauge
	EventsRecorded     prometheus.Counter
	EventsMerged       prometheus.Counter
	EventsDropped      prometheus.Counter
	UnmatchedEnds      prometheus.Counter
	OpenZonesDiscarded prometheus.Counter
	StaleEvents        prometheus.Counter
	ThreadsRegistered  prometheus.Gauge
	ThreadsPruned      prometheus.Counter
	MergeDuration      prometheus.Histogram
	FrameDuration      prometheus.Histogram

	// Sink layer.
	ExportErrors        *prometheus.CounterVec   // sink
	SinkFramesWritten   *prometheus.CounterVec   // sink
	SinkFramesDropped   *prometheus.CounterVec   // sink
	SinkQueueLength     *prometheus.GaugeVec     // sink
	SinkWriteDuration   *prometheus.HistogramVec // sink
	ClickHouseConnected *prometheus.GaugeVec     // sink

	// Agent.
	AgentStartDuration *prometheus.GaugeVec // phase

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "frames_total",
			Help:      "Total completed frame merges.",
		}),
		CurrentFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronoprof",
			Name:      "current_frame",
			Help:      "Index of the last merged frame.",
		}),
		EventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "events_recorded_total",
			Help:      "Total zone starts accepted into a goroutine log.",
		}),
		EventsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "events_merged_total",
			Help:      "Total events copied into merged frames.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "events_dropped_total",
			Help:      "Total zone starts dropped because a goroutine log was full.",
		}),
		UnmatchedEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "unmatched_ends_total",
			Help:      "Total zone ends issued with no open zone.",
		}),
		OpenZonesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "open_zones_discarded_total",
			Help:      "Total zones still open when their frame was merged.",
		}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "stale_events_total",
			Help:      "Total zones discarded because they started before their frame.",
		}),
		ThreadsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronoprof",
			Name:      "threads_registered",
			Help:      "Number of goroutines currently registered with the profiler.",
		}),
		ThreadsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoprof",
			Name:      "threads_pruned_total",
			Help:      "Total idle goroutines removed from the registry.",
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chronoprof",
			Name:      "merge_duration_seconds",
			Help:      "Time spent merging goroutine logs at frame end.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}, // 10us-5ms
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chronoprof",
			Name:      "frame_duration_seconds",
			Help:      "Observed time between frame begin and end.",
			Buckets:   []float64{0.001, 0.004, 0.008, 0.0167, 0.0333, 0.05, 0.1, 0.25}, // 1ms-250ms
		}),

		ExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoprof",
				Name:      "export_errors_total",
				Help:      "Total frame write errors by sink.",
			},
			[]string{"sink"},
		),
		SinkFramesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoprof",
				Name:      "sink_frames_written_total",
				Help:      "Total frames written by sink.",
			},
			[]string{"sink"},
		),
		SinkFramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoprof",
				Name:      "sink_frames_dropped_total",
				Help:      "Total frames dropped because a sink queue was full.",
			},
			[]string{"sink"},
		),
		SinkQueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronoprof",
				Name:      "sink_queue_length",
				Help:      "Current number of frames queued by sink.",
			},
			[]string{"sink"},
		),
		SinkWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chronoprof",
				Name:      "sink_write_duration_seconds",
				Help:      "Time to write one frame by sink.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 100us-1s
			},
			[]string{"sink"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronoprof",
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),

		AgentStartDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronoprof",
				Name:      "agent_start_duration_seconds",
				Help:      "Duration of agent startup phases.",
			},
			[]string{"phase"},
		),
	}

	reg.MustRegister(
		h.FramesTotal,
		h.CurrentFrame,
		h.EventsRecorded,
		h.EventsMerged,
		h.EventsDropped,
		h.UnmatchedEnds,
		h.OpenZonesDiscarded,
		h.StaleEvents,
		h.ThreadsRegistered,
		h.ThreadsPruned,
		h.MergeDuration,
		h.FrameDuration,
	)

	reg.MustRegister(
		h.ExportErrors,
		h.SinkFramesWritten,
		h.SinkFramesDropped,
		h.SinkQueueLength,
		h.SinkWriteDuration,
		h.ClickHouseConnected,
		h.AgentStartDuration,
	)

	return h
}

// ObserveFrame records a completed merge.
func (h *HealthMetrics) ObserveFrame(summary profiler.FrameSummary) {
	counts := summary.Counts

	h.FramesTotal.Add(float64(counts[profiler.CounterFrames]))
	h.EventsRecorded.Add(float64(counts[profiler.CounterRecorded]))
	h.EventsMerged.Add(float64(counts[profiler.CounterMerged]))
	h.EventsDropped.Add(float64(counts[profiler.CounterDropped]))
	h.UnmatchedEnds.Add(float64(counts[profiler.CounterUnmatchedEnds]))
	h.OpenZonesDiscarded.Add(float64(counts[profiler.CounterOpenDiscarded]))
	h.StaleEvents.Add(float64(counts[profiler.CounterStale]))

	h.CurrentFrame.Set(float64(summary.Index))
	h.ThreadsRegistered.Set(float64(summary.Threads))
	h.ThreadsPruned.Add(float64(summary.Pruned))
	h.MergeDuration.Observe(summary.MergeDuration.Seconds())
	h.FrameDuration.Observe(summary.Duration.Seconds())
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
