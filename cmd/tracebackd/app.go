package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/collector"
	tbconfig "github.com/brennhill/tracebackbone/internal/config"
	"github.com/brennhill/tracebackbone/internal/logging"
	"github.com/brennhill/tracebackbone/internal/reconstruct"
	"github.com/brennhill/tracebackbone/internal/snapshot"
	"github.com/brennhill/tracebackbone/internal/store"
	"github.com/brennhill/tracebackbone/internal/streaming"
)

// errStorageInit marks a buildDaemon failure as having come from store.Open
// so runDaemon can map it to the §6 "storage init failed" exit code without
// a new exported error type per failure site.
var errStorageInit = errors.New("storage init")

// loadConfig builds a config.Config from the cascade, layering in whatever
// flags the user actually set on top (§6 "Configuration"; cascade order
// documented in SPEC_FULL.md's Ambient Stack section).
func loadConfig(cmd *cli.Command) (tbconfig.Config, error) {
	// The daemon's flags are all defined on the root command (main.go);
	// subcommands read them through cmd.Root() rather than redeclaring
	// them on every subcommand.
	root := cmd.Root()
	flags := &tbconfig.FlagOverrides{}
	if root.IsSet("storage-path") {
		v := root.String("storage-path")
		flags.StoragePath = &v
	}
	if root.IsSet("streaming-port") {
		v := int(root.Int("streaming-port"))
		flags.StreamingPort = &v
	}
	if root.IsSet("sampling-rate") {
		v := root.Float64("sampling-rate")
		flags.SamplingRate = &v
	}
	if root.IsSet("metrics-addr") {
		v := root.String("metrics-addr")
		flags.MetricsAddr = &v
	}
	if root.IsSet("auth-enabled") {
		v := root.Bool("auth-enabled")
		flags.AuthEnabled = &v
	}
	return tbconfig.Load(flags)
}

// daemon holds every component tracebackd wires together, so shutdown can
// tear them down in reverse dependency order (§5 "Cancellation").
type daemon struct {
	log        *zap.Logger
	cfg        tbconfig.Config
	store      *store.Store
	sweeper    *store.RetentionSweeper
	collector  *collector.Collector
	snapshots  *snapshot.Manager
	reconstructor *reconstruct.Reconstructor
	streaming  *streaming.Server
	httpServer    *http.Server
	metricsServer *http.Server
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	root := cmd.Root()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return newDaemonError(exitConfigInvalid, "configuration invalid: %v", err)
	}

	log := logging.New(root.Bool("dev"))
	defer log.Sync() //nolint:errcheck

	d, err := buildDaemon(cfg, log)
	if err != nil {
		if errors.Is(err, errStorageInit) {
			return newDaemonError(exitStorageInitFailed, "storage init failed: %v", err)
		}
		return newDaemonError(exitUncaughtStartup, "startup failed: %v", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Streaming.Port))
	if err != nil {
		d.store.Close()
		return newDaemonError(exitStreamingPortInUse, "streaming port %d in use: %v", cfg.Streaming.Port, err)
	}

	streamMux := http.NewServeMux()
	streamMux.Handle("/stream", d.streaming)
	d.httpServer = &http.Server{Handler: streamMux}

	registry := prometheus.NewRegistry()
	registry.MustRegister(d.collector.PrometheusCollectors()...)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	d.metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- d.httpServer.Serve(ln) }()
	go func() { errCh <- d.metricsServer.ListenAndServe() }()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("tracebackd started",
		zap.Int("streaming_port", cfg.Streaming.Port),
		zap.String("storage_path", cfg.StoragePath),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.shutdown(shutdownCtx)
	return nil
}

// buildDaemon constructs every component and wires the collector's flush
// tee into the streaming server, per §2's data-flow diagram (producers ->
// Collector -> Store, same batches tee'd to Streaming).
func buildDaemon(cfg tbconfig.Config, log *zap.Logger) (*daemon, error) {
	st, err := store.Open(store.Options{
		Path:             cfg.StoragePath,
		RetentionDefault: cfg.RetentionDefault(),
		RetentionError:   cfg.RetentionError(),
		Logger:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStorageInit, err)
	}

	sweeper, err := store.NewRetentionSweeper(st, cfg.RetentionSweepSpec, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("retention sweeper: %w", err)
	}
	sweeper.Start()

	snapMgr := snapshot.New(snapshot.Options{
		Store:                  st,
		CompressionThreshold:   cfg.CompressionThresholdBytes,
		MaxRetention:           cfg.SnapshotMaxRetention(),
		MaxSnapshotsPerSession: cfg.Snapshots.MaxSnapshotsPerSession,
		Logger:                 log,
	})

	recon := reconstruct.New(reconstruct.Options{
		Store:     st,
		Snapshots: snapMgr,
		Logger:    log,
	})

	streamServer := streaming.New(streaming.Options{
		MaxConnections:      cfg.Streaming.MaxConnections,
		HeartbeatInterval:   cfg.HeartbeatInterval(),
		MaxMessageSize:      cfg.Streaming.MaxMessageSize,
		HistoricalDataLimit: cfg.Streaming.HistoricalDataLimit,
		Auth: streaming.AuthConfig{
			Enabled: cfg.Streaming.Auth.Enabled,
			APIKeys: cfg.Streaming.Auth.APIKeys,
		},
		RateLimit: streaming.RateLimitOptions{
			Window:            cfg.RateLimitWindow(),
			MaxMessages:       cfg.Streaming.RateLimit.MaxMessages,
			MaxBytesPerWindow: cfg.Streaming.RateLimit.MaxBytesPerWindow,
		},
		Backpressure: streaming.BackpressureOptions{
			MaxQueueSize: cfg.Streaming.Backpressure.MaxQueueSize,
			HighWater:    cfg.Streaming.Backpressure.HighWater,
			LowWater:     cfg.Streaming.Backpressure.LowWater,
			DropOldest:   cfg.Streaming.Backpressure.DropOldest,
		},
		Store:  st,
		Logger: log,
	})

	coll := collector.New(collector.Options{
		BufferSize:         cfg.BufferSize,
		BatchSize:          cfg.BatchSize,
		FlushInterval:      cfg.FlushInterval(),
		SamplingRate:       cfg.SamplingRate,
		EventsPerKeyPerSec: 100,
		MaxEventsPerAgent:  cfg.MaxEventsPerAgent,
		SanitizeMaxBytes:   1000,
		Store:              st,
		OnFlush:            streamServer.HandleFlushedBatch,
		Logger:             log,
	})

	return &daemon{
		log:           log,
		cfg:           cfg,
		store:         st,
		sweeper:       sweeper,
		collector:     coll,
		snapshots:     snapMgr,
		reconstructor: recon,
		streaming:     streamServer,
	}, nil
}

func (d *daemon) shutdown(ctx context.Context) {
	d.log.Info("shutting down")
	if d.httpServer != nil {
		_ = d.httpServer.Shutdown(ctx)
	}
	if d.metricsServer != nil {
		_ = d.metricsServer.Shutdown(ctx)
	}
	d.streaming.Shutdown(ctx)
	d.collector.Shutdown(ctx)
	d.sweeper.Stop()
	if err := d.store.Close(); err != nil {
		d.log.Warn("error closing store", zap.Error(err))
	}
	d.log.Info("shutdown complete")
}
