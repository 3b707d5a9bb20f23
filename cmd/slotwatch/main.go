package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "slotwatch",
		Usage: "Solana block and slot observer",
		Description: `Polls a Solana RPC node for newly produced blocks and prints every transaction.

Blocks can be discovered by windowed polling, by following the cluster's slot
stream, or by a push block subscription. Polled blocks can also be published
to NATS JetStream and Kafka.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			pollCommand(),
			{
				Name:  "gossip",
				Usage: "Join the cluster as an observer",
				Subcommands: []*cli.Command{
					gossipSlotsCommand(),
					gossipVotesCommand(),
					gossipPeersCommand(),
				},
			},
			subscribeCommand(),
			{
				Name:  "cursor",
				Usage: "Inspect and override persisted poll cursors",
				Subcommands: []*cli.Command{
					cursorListCommand(),
					cursorGetCommand(),
					cursorSetCommand(),
					cursorResetCommand(),
				},
			},
			{
				Name:  "schedule",
				Usage: "Manage the durable Temporal poll",
				Subcommands: []*cli.Command{
					scheduleCreateCommand(),
					scheduleDeleteCommand(),
					scheduleRunCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Status server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					statusCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands. Unset flags fall back to
		// the environment and then to the defaults in service/config.
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"u"},
				Usage:   "Solana RPC URL",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "ws-url",
				Usage:   "Solana websocket URL (derived from --rpc-url when unset)",
				EnvVars: []string{"SOLANA_WS_URL"},
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Commitment level (processed, confirmed, finalized)",
				EnvVars: []string{"COMMITMENT"},
			},
			&cli.StringFlag{
				Name:    "encoding",
				Usage:   "Transaction encoding for getBlock (json, jsonParsed, base58, base64, base64+zstd)",
				EnvVars: []string{"TX_ENCODING"},
			},
			&cli.BoolFlag{
				Name:    "decode-binary",
				Usage:   "Decode binary transactions instead of skipping them",
				EnvVars: []string{"DECODE_BINARY"},
			},
			&cli.StringFlag{
				Name:    "format",
				Usage:   "Output format (text, json)",
				Value:   "text",
				EnvVars: []string{"OUTPUT_FORMAT"},
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "jq expression applied to JSON output; repeat to require all",
			},
			&cli.StringFlag{
				Name:    "cursor-store",
				Usage:   "Cursor store URL (memory://, postgres://, sqlite://, redis://)",
				EnvVars: []string{"CURSOR_STORE_URL"},
			},
			&cli.StringFlag{
				Name:    "cursor-key",
				Usage:   "Cursor key (derived from the RPC host when unset)",
				EnvVars: []string{"CURSOR_KEY"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve health, metrics and status on this address",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				Usage:   "OTLP/HTTP trace endpoint",
				EnvVars: []string{"OTEL_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Status server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
		},
	}
}

// loadConfig reads configuration from the environment and applies any
// global flags given on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrideString(c, "log-level", &cfg.LogLevel)
	if overrideString(c, "rpc-url", &cfg.SolanaRPCURL) {
		cfg.SolanaWSURL = config.WebsocketURL(cfg.SolanaRPCURL)
	}
	overrideString(c, "ws-url", &cfg.SolanaWSURL)
	overrideString(c, "commitment", &cfg.Commitment)
	overrideString(c, "encoding", &cfg.TxEncoding)
	if c.IsSet("decode-binary") {
		cfg.DecodeBinary = c.Bool("decode-binary")
	}
	overrideString(c, "cursor-store", &cfg.CursorStoreURL)
	overrideString(c, "cursor-key", &cfg.CursorKey)
	overrideString(c, "metrics-addr", &cfg.MetricsAddr)
	overrideString(c, "otel-endpoint", &cfg.OTelEndpoint)
	overrideString(c, "temporal-host", &cfg.TemporalHost)
	overrideString(c, "temporal-namespace", &cfg.TemporalNamespace)
	overrideString(c, "temporal-task-queue", &cfg.TemporalTaskQueue)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overrideString copies a non-empty flag value into dst.
func overrideString(c *cli.Context, name string, dst *string) bool {
	if !c.IsSet(name) || c.String(name) == "" {
		return false
	}
	*dst = c.String(name)
	return true
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

// exitErr maps a shutdown by signal to a clean exit.
func exitErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
