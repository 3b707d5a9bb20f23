package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/slotwatch/client"
	"github.com/urfave/cli/v2"
)

func statusClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, nil), nil
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 5 * time.Second,
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			sc, err := statusClient(c)
			if err != nil {
				return err
			}
			if err := sc.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the running poller's status",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			sc, err := statusClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			status, err := sc.Status(ctx)
			if err != nil {
				return err
			}

			if c.String("format") == "json" {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Mode:      %s\n", status.Mode)
			fmt.Fprintf(w, "Endpoint:  %s\n", status.Endpoint)
			fmt.Fprintf(w, "Version:   %s\n", status.Version)
			fmt.Fprintf(w, "Uptime:    %s\n", status.Uptime)
			if status.Cursor != nil {
				fmt.Fprintf(w, "Cursor:    %s = %d\n", status.CursorKey, *status.Cursor)
			}
			if lw := status.LastWindow; lw != nil {
				fmt.Fprintf(w, "Window:    [%d, %d)\n", lw.Window.Lo, lw.Window.Hi)
				fmt.Fprintf(w, "Reported:  %s\n", joinSlots(lw.Reported))
				fmt.Fprintf(w, "Skipped:   %s\n", joinSlots(lw.Skipped))
				if lw.Retried {
					fmt.Fprintf(w, "Retried:   yes\n")
				}
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "slotwatch CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}

func joinSlots(slots []uint64) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, ", ")
}
