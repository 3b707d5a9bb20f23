package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/discovery"
	"github.com/brojonat/slotwatch/service/poller"
	"github.com/urfave/cli/v2"
)

func gossipFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "entrypoint",
			Aliases: []string{"e"},
			Usage:   "Cluster gossip entrypoint host:port",
			EnvVars: []string{"GOSSIP_ENTRYPOINT"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Local UDP bind address",
			EnvVars: []string{"GOSSIP_BIND_ADDR"},
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Delay between polls of the slot table (defaults to POLL_INTERVAL)",
		},
		&cli.IntFlag{
			Name:  "table-size",
			Usage: "Number of slots and votes kept for pollers",
			Value: discovery.DefaultTableSize,
		},
	}
}

// gossipInterval is --interval when given and the configured poll interval
// otherwise.
func gossipInterval(c *cli.Context, cfg *config.Config) time.Duration {
	if c.IsSet("interval") {
		return c.Duration("interval")
	}
	return cfg.PollInterval
}

// bootstrap joins the cluster with the gossip flags applied.
func (d *deps) bootstrap(ctx context.Context, c *cli.Context, votes bool) (*discovery.Node, error) {
	cfg := discovery.Config{
		Entrypoint: d.cfg.GossipEntrypoint,
		BindAddr:   d.cfg.GossipBindAddr,
		WSURL:      d.cfg.SolanaWSURL,
		Votes:      votes,
		TableSize:  c.Int("table-size"),
	}
	if c.IsSet("entrypoint") {
		cfg.Entrypoint = c.String("entrypoint")
	}
	if c.IsSet("bind") {
		cfg.BindAddr = c.String("bind")
	}

	node, err := discovery.Bootstrap(ctx, cfg, d.chain, d.logger, discovery.WithMetrics(d.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to join cluster: %w", err)
	}
	d.closers = append(d.closers, func() { node.Close() })

	self := node.Self()
	d.logger.Info("joined cluster",
		"identity", self.Identity,
		"local_addr", self.LocalAddr,
		"entrypoint", self.Entrypoint,
		"peers", len(node.Peers()),
	)
	return node, nil
}

func gossipSlotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Fetch and print every block for slots announced by the cluster",
		Flags: gossipFlags(),
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
			node, err := d.bootstrap(ctx, c, false)
			if err != nil {
				return err
			}
			d.serveStatus("discovery", nil, nil)

			p := poller.NewDiscoveryPoller(node, d.chain, reporter, reporter, gossipInterval(c, d.cfg), d.metrics, d.logger)
			return exitErr(p.Run(ctx))
		},
	}
}

func gossipVotesCommand() *cli.Command {
	return &cli.Command{
		Name:  "votes",
		Usage: "Print vote transactions from every new block",
		Flags: gossipFlags(),
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
			node, err := d.bootstrap(ctx, c, true)
			if err != nil {
				return err
			}
			d.serveStatus("votes", nil, nil)

			p := poller.NewVotePoller(node, reporter, gossipInterval(c, d.cfg), d.logger)
			return exitErr(p.Run(ctx))
		},
	}
}

func gossipPeersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "Join the cluster and list its members",
		Flags: gossipFlags(),
		Action: func(c *cli.Context) error {
			ctx, d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.Close()

			node, err := d.bootstrap(ctx, c, false)
			if err != nil {
				return err
			}
			return printPeers(c, node.Peers())
		},
	}
}

func printPeers(c *cli.Context, peers []discovery.Peer) error {
	if c.String("format") == "json" {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tGOSSIP\tRPC\tVERSION")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Identity, dash(p.Gossip), dash(p.RPC), dash(p.Version))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %d peer(s)\n", len(peers))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
