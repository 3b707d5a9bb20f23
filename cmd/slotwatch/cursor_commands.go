package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/urfave/cli/v2"
)

// withStore opens the configured cursor store for a one-shot command.
func withStore(c *cli.Context, fn func(ctx context.Context, store cursor.Store, key string) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	store, err := cursor.Open(c.Context, cfg.CursorStoreURL, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer store.Close()

	key := cfg.CursorKeyOrDefault()
	if c.Args().Present() {
		key = c.Args().First()
	}
	return fn(c.Context, store, key)
}

func cursorListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List every persisted cursor",
		Action: func(c *cli.Context) error {
			return withStore(c, func(ctx context.Context, store cursor.Store, _ string) error {
				entries, err := store.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list cursors: %w", err)
				}
				if len(entries) == 0 {
					fmt.Fprintln(c.App.Writer, "No cursors stored.")
					return nil
				}

				w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tSLOT")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%d\n", e.Key, e.Slot)
				}
				return w.Flush()
			})
		},
	}
}

func cursorGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the persisted cursor",
		ArgsUsage: "[key]",
		Action: func(c *cli.Context) error {
			return withStore(c, func(ctx context.Context, store cursor.Store, key string) error {
				slot, ok, err := store.Load(ctx, key)
				if err != nil {
					return fmt.Errorf("failed to load cursor: %w", err)
				}
				if !ok {
					return fmt.Errorf("no cursor stored for %q", key)
				}
				fmt.Fprintf(c.App.Writer, "%s\t%d\n", key, slot)
				return nil
			})
		},
	}
}

func cursorSetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Override the persisted cursor",
		ArgsUsage: "[key]",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "slot",
				Usage:    "Slot the next window starts at",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return withStore(c, func(ctx context.Context, store cursor.Store, key string) error {
				slot := c.Uint64("slot")
				if err := store.Save(ctx, key, slot); err != nil {
					return fmt.Errorf("failed to save cursor: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Cursor %s set to %d\n", key, slot)
				return nil
			})
		},
	}
}

func cursorResetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Delete the persisted cursor so the next run starts from the chain tip",
		ArgsUsage: "[key]",
		Action: func(c *cli.Context) error {
			return withStore(c, func(ctx context.Context, store cursor.Store, key string) error {
				if err := store.Delete(ctx, key); err != nil {
					return fmt.Errorf("failed to delete cursor: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Cursor %s reset\n", key)
				return nil
			})
		},
	}
}
