package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/temporal"
	"github.com/urfave/cli/v2"
)

// temporalClient connects to Temporal with the global flags applied.
func temporalClient(c *cli.Context) (*config.Config, *temporal.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, tc, nil
}

func pollInput(c *cli.Context, cfg *config.Config) temporal.PollWindowInput {
	input := temporal.PollWindowInput{
		CursorKey:       cfg.CursorKeyOrDefault(),
		WindowSize:      cfg.WindowSize,
		StartSlot:       cfg.StartSlot,
		StartSlotPolicy: string(cfg.StartSlotPolicy),
	}
	if c.IsSet("window-size") {
		input.WindowSize = c.Uint64("window-size")
	}
	if c.IsSet("start-slot") {
		slot := c.Uint64("start-slot")
		input.StartSlot = &slot
	}
	return input
}

func scheduleWindowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:  "window-size",
			Usage: "Slots per window",
		},
		&cli.Uint64Flag{
			Name:  "start-slot",
			Usage: "Initial slot when no cursor is stored",
		},
	}
}

func scheduleCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create or update the schedule that runs one poll window per interval",
		Flags: append(scheduleWindowFlags(),
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Schedule interval",
				Value: 5 * time.Second,
			},
		),
		Action: func(c *cli.Context) error {
			cfg, tc, err := temporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := pollInput(c, cfg)
			if err := tc.UpsertPollSchedule(c.Context, input, c.Duration("interval")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Poll schedule for %s runs every %s on %s\n",
				input.CursorKey, c.Duration("interval"), tc.TaskQueue())
			return nil
		},
	}
}

func scheduleDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the poll schedule",
		Action: func(c *cli.Context) error {
			cfg, tc, err := temporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			key := cfg.CursorKeyOrDefault()
			if err := tc.DeletePollSchedule(c.Context, key); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Poll schedule for %s deleted\n", key)
			return nil
		},
	}
}

func scheduleRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a single poll window on the worker and print its result",
		Flags: scheduleWindowFlags(),
		Action: func(c *cli.Context) error {
			cfg, tc, err := temporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.ExecutePollWindow(c.Context, pollInput(c, cfg))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
