package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voxelwatch.ai/internal/track/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file uses defaults)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (discoveries are then kept in memory only)")
		capture    = flag.Bool("capture", true, "capture accepted actions to <data>/capture for replay")

		kafkaBrokers = flag.String("kafka_brokers", "", "comma separated kafka brokers (empty disables publishing)")
		kafkaTopic   = flag.String("kafka_topic", "voxelwatch.reports", "kafka topic for report envelopes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := loadTuning(*tuningPath, logger)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	rt, err := newApp(appConfig{
		DataDir:      *dataDir,
		DisableDB:    *disableDB,
		Capture:      *capture,
		KafkaBrokers: *kafkaBrokers,
		KafkaTopic:   strings.TrimSpace(*kafkaTopic),
		TickInterval: tune.TickInterval(),
	}, tune, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tuning_digest=%s", *addr, tune.Digest())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Hijacked WebSocket connections outlive Shutdown; closing the hub
	// finalizes every actor that is still connected.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel3()
	if err := rt.Close(ctx3); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	logger.Printf("stopped")
}

func loadTuning(path string, logger *log.Logger) (tuning.Tuning, error) {
	tune, err := tuning.Load(path)
	if err == nil {
		return tune, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if logger != nil {
			logger.Printf("tuning not found (%s); using defaults", path)
		}
		return tuning.Defaults(), nil
	}
	return tune, err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
