package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"voxelwatch.ai/internal/metrics"
	"voxelwatch.ai/internal/persistence/indexdb"
	persistlog "voxelwatch.ai/internal/persistence/log"
	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/discovery"
	"voxelwatch.ai/internal/track/hub"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/tuning"
	"voxelwatch.ai/internal/transport/kafkabus"
	"voxelwatch.ai/internal/transport/observer"
	"voxelwatch.ai/internal/transport/ws"
)

const sinkBuffer = 4096

type appConfig struct {
	DataDir      string
	DisableDB    bool
	Capture      bool
	KafkaBrokers string
	KafkaTopic   string
	// TickInterval zero leaves ticking to the caller (tests).
	TickInterval time.Duration
}

// app owns every long-lived component of the tracker process.
type app struct {
	log *log.Logger

	hub      *hub.Hub
	ingest   *ws.Server
	observer *observer.Server
	metrics  *metrics.Metrics

	reportLog   *persistlog.ReportLogger
	reportAsync *report.Async
	capture     *persistlog.CaptureLogger
	idx         *indexdb.SQLiteIndex
	kafka       *kafkabus.Publisher
	kafkaAsync  *report.Async
	mirror      *r2MirrorRuntime
}

func newApp(cfg appConfig, tune tuning.Tuning, logger *log.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	validator, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("schemas: %w", err)
	}

	rt := &app{log: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close(context.Background())
		}
	}()

	rt.mirror, err = buildR2MirrorRuntime(cfg.DataDir, prefixed(logger, "[r2] "))
	if err != nil {
		return nil, fmt.Errorf("r2 mirror: %w", err)
	}

	rt.idx, err = openIndex(cfg.DataDir, cfg.DisableDB)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	var store discovery.Store = discovery.NewMemStore()
	if rt.idx != nil {
		store = rt.idx
		if err := rt.idx.RecordTuning(tune); err != nil {
			rt.logf("index: record tuning: %v", err)
		}
	}

	rt.reportLog = persistlog.NewReportLogger(cfg.DataDir, logger)
	rt.mirror.attach(rt.reportLog.Writer())
	rt.reportAsync = report.NewAsync("reports", rt.reportLog, sinkBuffer, logger)

	rt.observer = observer.NewServer(validator, logger)

	sinks := report.Fanout{rt.metrics, rt.observer, rt.reportAsync}
	if rt.idx != nil {
		sinks = append(sinks, rt.idx)
	}
	if brokers := kafkabus.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		rt.kafka = kafkabus.NewPublisher(kafkabus.NewWriter(brokers, cfg.KafkaTopic), cfg.KafkaTopic, prefixed(logger, "[kafka] "))
		rt.kafkaAsync = report.NewAsync("kafka", rt.kafka, sinkBuffer, logger)
		sinks = append(sinks, rt.kafkaAsync)
		rt.logf("publishing reports to kafka topic=%s brokers=%v", cfg.KafkaTopic, brokers)
	}

	hubLogger := prefixed(logger, "[hub] ")
	rt.hub = hub.New(hub.Config{
		Tuning:       tune,
		Registry:     discovery.NewRegistry(store, hubLogger),
		Sink:         sinks,
		Logger:       hubLogger,
		TickInterval: cfg.TickInterval,
	})

	var recorder ws.Recorder
	if cfg.Capture {
		rt.capture = persistlog.NewCaptureLogger(cfg.DataDir)
		rt.mirror.attach(rt.capture.Writer())
		recorder = rt.capture
	}
	rt.ingest = ws.NewServer(ws.Config{
		Hub:          rt.hub,
		Validator:    validator,
		Capture:      recorder,
		TuningDigest: tune.Digest(),
		Logger:       prefixed(logger, "[ingest] "),
	})

	rt.registerMetrics()
	ok = true
	return rt, nil
}

// Handler routes the tracker's HTTP surface.
func (rt *app) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/v1/ingest", rt.metrics.WrapUpgrade("/v1/ingest", rt.ingest.Handler()))
	mux.Handle("/v1/reports", rt.metrics.WrapUpgrade("/v1/reports", rt.observer.WSHandler()))

	var history observer.History
	if rt.idx != nil {
		history = rt.idx
	}
	mux.Handle("/v1/history", rt.metrics.WrapHandler("/v1/history", rt.observer.HistoryHandler(history)))
	return mux
}

func (rt *app) registerMetrics() {
	m := rt.metrics
	m.Gauge("active_actors", "Actors with a live worker.", func() float64 { return float64(rt.hub.Len()) })
	m.Gauge("ingest_connections", "Open ingest connections.", func() float64 { return float64(rt.ingest.Stats().Connected) })
	m.Counter("ingest_accepted_total", "Inbound messages accepted.", func() float64 { return float64(rt.ingest.Stats().Accepted) })
	m.Counter("ingest_rejected_total", "Inbound messages answered with ERROR.", func() float64 { return float64(rt.ingest.Stats().Rejected) })
	m.Gauge("observer_subscribers", "Connected report observers.", func() float64 { return float64(rt.observer.Stats().Subscribers) })
	m.Counter("observer_dropped_total", "Frames dropped for slow observers.", func() float64 { return float64(rt.observer.Stats().DroppedTotal) })
	m.Gauge("report_log_queue_depth", "Envelopes waiting for the report log.", func() float64 { return float64(rt.reportAsync.Pending()) })
	m.Counter("report_log_dropped_total", "Envelopes dropped by the report log queue.", func() float64 { return float64(rt.reportAsync.Dropped()) })

	if rt.idx != nil {
		m.Gauge("index_queue_depth", "Pending sqlite index writes.", func() float64 { return float64(rt.idx.Stats().QueueDepth) })
		m.Counter("index_dropped_total", "Index writes dropped on a full queue.", func() float64 {
			st := rt.idx.Stats()
			return float64(st.DropDiscoveryTotal + st.DropReportTotal)
		})
		m.Counter("index_write_errors_total", "Failed sqlite index writes.", func() float64 { return float64(rt.idx.Stats().WriteErrTotal) })
		m.Counter("index_lost_writes_total", "Queued index writes that never reached sqlite.", func() float64 { return float64(rt.idx.Stats().LostTotal) })
	}
	if rt.kafka != nil {
		m.Counter("kafka_published_total", "Envelopes published to kafka.", func() float64 { return float64(rt.kafka.Stats().PublishedTotal) })
		m.Counter("kafka_errors_total", "Failed kafka publishes.", func() float64 { return float64(rt.kafka.Stats().ErrorTotal) })
		m.Counter("kafka_dropped_total", "Envelopes dropped by the kafka queue.", func() float64 { return float64(rt.kafkaAsync.Dropped()) })
	}
	if rt.mirror.enabled {
		m.Gauge("r2_mirror_queue_depth", "Current R2 mirror queue depth.", func() float64 { return float64(rt.mirror.Stats().QueueDepth) })
		m.Counter("r2_mirror_upload_success_total", "Successful mirror uploads.", func() float64 { return float64(rt.mirror.Stats().UploadSuccessTotal) })
		m.Counter("r2_mirror_upload_fail_total", "Mirror uploads failed after retry.", func() float64 { return float64(rt.mirror.Stats().UploadFailTotal) })
		m.Counter("r2_mirror_dropped_total", "Mirror files dropped on a saturated queue.", func() float64 { return float64(rt.mirror.Stats().DroppedTotal) })
		m.Gauge("r2_mirror_last_lag_seconds", "Enqueue-to-upload latency of the latest mirror upload.", func() float64 { return float64(rt.mirror.Stats().LastLagMs) / 1000 })
	}
}

// Close finalizes every actor, drains the sinks and closes storage. Order
// matters: reports emitted by the hub teardown must reach every sink before
// the writers behind them close.
func (rt *app) Close(ctx context.Context) error {
	var errs []error
	if rt.hub != nil {
		if err := rt.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hub: %w", err))
		}
	}
	if rt.reportAsync != nil {
		if err := rt.reportAsync.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("report queue: %w", err))
		}
	}
	if rt.kafkaAsync != nil {
		if err := rt.kafkaAsync.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka queue: %w", err))
		}
	}
	if rt.reportLog != nil {
		if err := rt.reportLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("report log: %w", err))
		}
	}
	if rt.capture != nil {
		if err := rt.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture log: %w", err))
		}
	}
	if rt.kafka != nil {
		if err := rt.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if rt.idx != nil {
		if err := rt.idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("index: %w", err))
		}
	}
	rt.mirror.Close()
	return errors.Join(errs...)
}

func (rt *app) logf(format string, args ...any) {
	if rt.log != nil {
		rt.log.Printf(format, args...)
	}
}

func prefixed(logger *log.Logger, prefix string) *log.Logger {
	if logger == nil {
		return nil
	}
	return log.New(logger.Writer(), prefix, logger.Flags())
}
