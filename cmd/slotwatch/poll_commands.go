package main

import (
	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/poller"
	"github.com/urfave/cli/v2"
)

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Poll the RPC node in fixed slot windows and print every block",
		Description: `Starts at the chain tip (or --start-slot, or the persisted cursor) and
repeatedly lists the produced slots in the next window, fetches each block
in ascending order and prints its transactions.

A failed getBlocks call retries the same window. A block that cannot be
fetched or decoded is reported and skipped.`,
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:    "window-size",
				Usage:   "Slots per window (default 10)",
				EnvVars: []string{"WINDOW_SIZE"},
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Delay between windows (default 5s)",
				EnvVars: []string{"POLL_INTERVAL"},
			},
			&cli.Uint64Flag{
				Name:  "start-slot",
				Usage: "Initial slot when no cursor is stored",
			},
			&cli.StringFlag{
				Name:  "start-slot-policy",
				Usage: "What to do when the chain tip is unavailable at startup (abort, zero)",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "Also publish blocks to NATS JetStream",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringSliceFlag{
				Name:  "kafka-broker",
				Usage: "Also publish blocks to Kafka (repeatable)",
			},
			&cli.StringFlag{
				Name:    "kafka-topic",
				Usage:   "Kafka topic for block events",
				EnvVars: []string{"KAFKA_TOPIC"},
			},
		},
		Action: func(c *cli.Context) error {
			ctx, d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.Close()

			applyPollFlags(c, d.cfg)
			if err := d.cfg.Validate(); err != nil {
				return err
			}

			reporter, err := d.newReporter(c)
			if err != nil {
				return err
			}
			handler, err := d.blockHandler(reporter)
			if err != nil {
				return err
			}
			store, err := d.openStore(ctx)
			if err != nil {
				return err
			}

			p := poller.New(d.chain, handler, store, poller.Config{
				WindowSize:      d.cfg.WindowSize,
				PollInterval:    d.cfg.PollInterval,
				StartSlot:       d.cfg.StartSlot,
				StartSlotPolicy: d.cfg.StartSlotPolicy,
				CursorKey:       d.cfg.CursorKeyOrDefault(),
			}, d.metrics, d.logger)
			d.serveStatus("window", p, store)

			d.logger.Info("starting windowed poller",
				"window_size", d.cfg.WindowSize,
				"interval", d.cfg.PollInterval,
				"cursor_key", d.cfg.CursorKeyOrDefault(),
				"cursor_store", store.Backend(),
			)
			return exitErr(p.Run(ctx))
		},
	}
}

// applyPollFlags overrides the polling configuration with command flags.
func applyPollFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("window-size") {
		cfg.WindowSize = c.Uint64("window-size")
	}
	if c.IsSet("interval") {
		cfg.PollInterval = c.Duration("interval")
	}
	if c.IsSet("start-slot") {
		slot := c.Uint64("start-slot")
		cfg.StartSlot = &slot
	}
	if c.IsSet("start-slot-policy") {
		cfg.StartSlotPolicy = config.StartSlotPolicy(c.String("start-slot-policy"))
	}
	if c.IsSet("nats-url") {
		cfg.NATSURL = c.String("nats-url")
	}
	if c.IsSet("kafka-broker") {
		cfg.KafkaBrokers = c.StringSlice("kafka-broker")
	}
	if c.IsSet("kafka-topic") {
		cfg.KafkaTopic = c.String("kafka-topic")
	}
}
