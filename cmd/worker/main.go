package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/kafka"
	"github.com/brojonat/slotwatch/service/metrics"
	natspkg "github.com/brojonat/slotwatch/service/nats"
	"github.com/brojonat/slotwatch/service/poller"
	"github.com/brojonat/slotwatch/service/report"
	"github.com/brojonat/slotwatch/service/solana"
	"github.com/brojonat/slotwatch/service/telemetry"
	"github.com/brojonat/slotwatch/service/temporal"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, "slotwatch-worker", cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("failed to initialize tracing, continuing without it", "error", err)
	}
	defer shutdownTracer(context.Background())

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// memory:// does not survive a restart.
	store, err := cursor.Open(ctx, cfg.CursorStoreURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to open cursor store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	blockOpts := solana.DefaultBlockOptions()
	blockOpts.Encoding = cfg.TxEncoding
	solanaClient := solana.NewClient(
		solana.NewRPCClient(cfg.SolanaRPCURL),
		solana.ClientConfig{
			Endpoint:   config.EndpointLabel(cfg.SolanaRPCURL),
			Commitment: rpc.CommitmentType(cfg.Commitment),
			Block:      blockOpts,
		},
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Blocks are printed to stdout and published to every configured sink.
	handlers := poller.Fanout{report.New(os.Stdout, report.Options{
		Format:       report.FormatJSON,
		DecodeBinary: cfg.DecodeBinary,
		Errors:       io.Discard,
		Metrics:      metricsCollector,
		Logger:       logger,
	})}

	cluster := config.EndpointLabel(cfg.SolanaRPCURL)
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		sink := natspkg.NewSink(natsPublisher, cluster, cfg.DecodeBinary, metricsCollector, logger)
		defer sink.Close()
		handlers = append(handlers, sink)
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			DecodeBinary: cfg.DecodeBinary,
		}, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		handlers = append(handlers, producer)
		logger.Info("publishing to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Source:            solanaClient,
		Handler:           handlers,
		Store:             store,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"cursor_store", store.Backend(),
		"sinks", len(handlers),
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
