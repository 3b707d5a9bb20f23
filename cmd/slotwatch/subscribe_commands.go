package main

import (
	"fmt"

	"github.com/brojonat/slotwatch/service/subscribe"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Print the slot of every block pushed over the websocket",
		Description: `Subscribes to all blocks with blockSubscribe and prints each notification's
slot. The first stream error ends the command; there is no reconnect.`,
		Action: func(c *cli.Context) error {
			ctx, d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.Close()

			reporter, err := d.newReporter(c)
			if err != nil {
				return err
			}

			opts := subscribe.DefaultOptions()
			opts.Commitment = rpc.CommitmentType(d.cfg.Commitment)
			stream, err := subscribe.Subscribe(ctx, d.cfg.SolanaWSURL, opts)
			if err != nil {
				d.logger.Error("failed to subscribe to blocks", "ws_url", d.cfg.SolanaWSURL, "error", err)
				return fmt.Errorf("failed to subscribe to blocks: %w", err)
			}
			defer stream.Close()
			d.serveStatus("subscribe", nil, nil)

			d.logger.Info("subscribed to blocks", "ws_url", d.cfg.SolanaWSURL, "commitment", opts.Commitment)
			return exitErr(subscribe.Listen(ctx, stream, reporter, d.metrics, d.logger))
		},
	}
}
