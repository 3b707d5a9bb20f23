package main

import (
	"context"
	"fmt"
	"log/slog"
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
	"github.com/brojonat/slotwatch/service/server"
	"github.com/brojonat/slotwatch/service/solana"
	"github.com/brojonat/slotwatch/service/telemetry"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

// deps bundles what every long-running command needs.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	chain   *solana.Client

	closers []func()
}

// newDeps loads configuration, installs the signal handler and tracer,
// and builds the chain client. The returned context is cancelled on
// SIGINT or SIGTERM.
func newDeps(c *cli.Context) (context.Context, *deps, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	d := &deps{cfg: cfg, logger: logger}
	d.closers = append(d.closers, stop)

	shutdownTracer, err := telemetry.InitTracer(ctx, "slotwatch", cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("failed to initialize tracing, continuing without it", "error", err)
	}
	d.closers = append(d.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	})

	// Metrics are only collected when something serves them.
	if cfg.MetricsAddr != "" {
		d.metrics = metrics.NewMetrics(nil)
	}

	d.chain = solana.NewClient(
		solana.NewRPCClient(cfg.SolanaRPCURL),
		solana.ClientConfig{
			Endpoint:   config.EndpointLabel(cfg.SolanaRPCURL),
			Commitment: rpc.CommitmentType(cfg.Commitment),
			Block:      blockOptions(cfg),
		},
		d.metrics,
		logger,
	)
	logger.Info("initialized solana RPC client",
		"url", cfg.SolanaRPCURL,
		"commitment", cfg.Commitment,
		"encoding", cfg.TxEncoding,
	)

	return ctx, d, nil
}

// Close releases resources in reverse order of acquisition.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func blockOptions(cfg *config.Config) solana.BlockOptions {
	opts := solana.DefaultBlockOptions()
	opts.Encoding = cfg.TxEncoding
	return opts
}

// newReporter builds the console reporter from the global output flags.
func (d *deps) newReporter(c *cli.Context) (*report.Reporter, error) {
	filters, err := report.ParseFilters(c.StringSlice("filter"))
	if err != nil {
		return nil, err
	}
	format := report.Format(c.String("format"))
	if format != report.FormatText && format != report.FormatJSON {
		return nil, fmt.Errorf("invalid format %q (must be text or json)", format)
	}
	return report.New(c.App.Writer, report.Options{
		Format:       format,
		Filters:      filters,
		DecodeBinary: d.cfg.DecodeBinary,
		Errors:       c.App.ErrWriter,
		Metrics:      d.metrics,
		Logger:       d.logger,
	}), nil
}

// blockHandler fans blocks out to the reporter and every configured sink.
func (d *deps) blockHandler(reporter *report.Reporter) (poller.BlockHandler, error) {
	handlers := poller.Fanout{reporter}
	cluster := config.EndpointLabel(d.cfg.SolanaRPCURL)

	if d.cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(d.cfg.NATSURL, d.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		sink := natspkg.NewSink(publisher, cluster, d.cfg.DecodeBinary, d.metrics, d.logger)
		d.closers = append(d.closers, func() { sink.Close() })
		handlers = append(handlers, sink)
		d.logger.Info("connected to NATS", "url", d.cfg.NATSURL)
	}

	if len(d.cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      d.cfg.KafkaBrokers,
			Topic:        d.cfg.KafkaTopic,
			DecodeBinary: d.cfg.DecodeBinary,
		}, d.metrics, d.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		d.closers = append(d.closers, func() { producer.Close() })
		handlers = append(handlers, producer)
		d.logger.Info("publishing to kafka", "brokers", d.cfg.KafkaBrokers, "topic", d.cfg.KafkaTopic)
	}

	return handlers, nil
}

// openStore opens the configured cursor store.
func (d *deps) openStore(ctx context.Context) (cursor.Store, error) {
	store, err := cursor.Open(ctx, d.cfg.CursorStoreURL, d.metrics, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	d.closers = append(d.closers, func() { store.Close() })
	return store, nil
}

// serveStatus starts the status server when an address is configured.
func (d *deps) serveStatus(mode string, status server.StatusSource, store cursor.Store) {
	if d.cfg.MetricsAddr == "" {
		return
	}

	info := server.Info{
		Version:   version,
		Endpoint:  config.EndpointLabel(d.cfg.SolanaRPCURL),
		CursorKey: d.cfg.CursorKeyOrDefault(),
		Mode:      mode,
	}
	srv := server.New(d.cfg.MetricsAddr, info, status, store, d.metrics, d.logger)
	go func() {
		if err := srv.Start(); err != nil {
			d.logger.Error("status server error", "error", err)
		}
	}()
	d.closers = append(d.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("failed to shutdown status server", "error", err)
		}
	})
}
