// Package discovery joins the cluster as a lightweight observer. It binds
// a UDP endpoint, loads cluster membership over RPC, and feeds newly
// produced slots (and optionally vote transactions) into a bounded table
// that pollers read through an opaque Cursor.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Config configures Bootstrap.
type Config struct {
	// Identity is the node keypair. An ephemeral key is generated when empty.
	Identity solanago.PrivateKey
	// Entrypoint is a cluster gossip address (host:port).
	Entrypoint string
	// BindAddr is the local UDP address. Defaults to 0.0.0.0:0.
	BindAddr string
	// WSURL is the websocket endpoint used for slot notifications.
	WSURL string
	// Votes enables vote transaction extraction for every new slot.
	Votes     bool
	TableSize int
}

// ChainClient is the RPC surface the node needs.
type ChainClient interface {
	ClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error)
	FetchBlockWithOpts(ctx context.Context, slot uint64, opts solana.BlockOptions) (*solana.Block, error)
}

// Peer is one cluster member.
type Peer struct {
	Identity string `json:"identity"`
	Gossip   string `json:"gossip,omitempty"`
	RPC      string `json:"rpc,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Self describes the local node.
type Self struct {
	Identity   string `json:"identity"`
	LocalAddr  string `json:"local_addr"`
	Entrypoint string `json:"entrypoint"`
}

// Node is a running discovery participant.
type Node struct {
	identity   solanago.PrivateKey
	conn       *net.UDPConn
	entrypoint *net.UDPAddr
	client     ChainClient
	table      *Table
	votes      bool
	metrics    *metrics.Metrics
	logger     *slog.Logger

	peersMu sync.RWMutex
	peers   []Peer

	feedMu  sync.Mutex
	feedErr error

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ErrFeedStopped is returned by Err once the slot feed has failed.
var ErrFeedStopped = errors.New("slot feed stopped")

// Option customizes Bootstrap.
type Option func(*options)

type options struct {
	dial    SlotDialer
	metrics *metrics.Metrics
}

// WithSlotDialer replaces the websocket slot feed.
func WithSlotDialer(d SlotDialer) Option {
	return func(o *options) { o.dial = d }
}

// WithMetrics records discovery metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Bootstrap resolves the entrypoint, binds the local socket, loads cluster
// membership, and starts the slot feeder. Resolve and bind failures are
// returned as errors; the node is unusable without them.
func Bootstrap(ctx context.Context, cfg Config, client ChainClient, logger *slog.Logger, opts ...Option) (*Node, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dial == nil {
		if cfg.WSURL == "" {
			return nil, errors.New("websocket URL is required")
		}
		o.dial = WebsocketSlotDialer(cfg.WSURL)
	}

	identity := cfg.Identity
	if len(identity) == 0 {
		w := solanago.NewWallet()
		identity = w.PrivateKey
	}

	if cfg.Entrypoint == "" {
		return nil, errors.New("entrypoint is required")
	}
	entry, err := net.ResolveUDPAddr("udp", cfg.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("resolve entrypoint %s: %w", cfg.Entrypoint, err)
	}

	bind := cfg.BindAddr
	if bind == "" {
		bind = "0.0.0.0:0"
	}
	local, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address %s: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", bind, err)
	}

	n := &Node{
		identity:   identity,
		conn:       conn,
		entrypoint: entry,
		client:     client,
		table:      NewTable(cfg.TableSize),
		votes:      cfg.Votes,
		metrics:    o.metrics,
		logger:     logger.With("component", "discovery"),
	}

	if err := n.RefreshPeers(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	stream, err := o.dial(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to slots: %w", err)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer stream.Close()
		n.feed(feedCtx, stream)
	}()

	n.logger.InfoContext(ctx, "discovery node started",
		"identity", identity.PublicKey().String(),
		"local_addr", conn.LocalAddr().String(),
		"entrypoint", entry.String(),
		"peers", len(n.Peers()),
		"votes", cfg.Votes,
	)
	return n, nil
}

// RefreshPeers reloads cluster membership.
func (n *Node) RefreshPeers(ctx context.Context) error {
	nodes, err := n.client.ClusterNodes(ctx)
	if err != nil {
		return fmt.Errorf("load cluster nodes: %w", err)
	}
	peers := make([]Peer, 0, len(nodes))
	for _, node := range nodes {
		if node == nil {
			continue
		}
		peers = append(peers, Peer{
			Identity: node.Pubkey.String(),
			Gossip:   deref(node.Gossip),
			RPC:      deref(node.RPC),
			Version:  deref(node.Version),
		})
	}
	n.peersMu.Lock()
	n.peers = peers
	n.peersMu.Unlock()
	return nil
}

// Peers returns the last loaded cluster membership.
func (n *Node) Peers() []Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	out := make([]Peer, len(n.peers))
	copy(out, n.peers)
	return out
}

// Self returns the local node's identity and bound address.
func (n *Node) Self() Self {
	return Self{
		Identity:   n.identity.PublicKey().String(),
		LocalAddr:  n.conn.LocalAddr().String(),
		Entrypoint: n.entrypoint.String(),
	}
}

// PollNewSlots returns the slots observed since c and advances c.
func (n *Node) PollNewSlots(c *Cursor) []uint64 {
	slots := n.table.Slots(c)
	if n.metrics != nil && len(slots) > 0 {
		n.metrics.RecordDiscovered("slot", len(slots))
	}
	return slots
}

// PollNewVotes returns the vote transactions observed since c and advances c.
func (n *Node) PollNewVotes(c *Cursor) []VoteTransaction {
	votes := n.table.Votes(c)
	if n.metrics != nil && len(votes) > 0 {
		n.metrics.RecordDiscovered("vote", len(votes))
	}
	return votes
}

// Close stops the feeder and releases the socket.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		n.wg.Wait()
		err = n.conn.Close()
	})
	return err
}

// Err reports why the slot feed stopped. It is nil while the feed is
// running and after Close.
func (n *Node) Err() error {
	n.feedMu.Lock()
	defer n.feedMu.Unlock()
	return n.feedErr
}

func (n *Node) feed(ctx context.Context, stream SlotStream) {
	for {
		slot, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.logger.ErrorContext(ctx, "slot feed stopped", "error", err)
				n.feedMu.Lock()
				n.feedErr = fmt.Errorf("%w: %w", ErrFeedStopped, err)
				n.feedMu.Unlock()
			}
			return
		}
		n.table.AppendSlot(slot)
		if n.votes {
			n.collectVotes(ctx, slot)
		}
	}
}

func (n *Node) collectVotes(ctx context.Context, slot uint64) {
	opts := solana.DefaultBlockOptions()
	opts.Encoding = solana.EncodingBase64
	block, err := n.client.FetchBlockWithOpts(ctx, slot, opts)
	if err != nil {
		n.logger.DebugContext(ctx, "no block for vote extraction",
			"slot", slot,
			"error", err,
		)
		return
	}
	for _, entry := range block.Transactions {
		tx, err := solana.WireTransaction(entry.Transaction)
		if err != nil {
			continue
		}
		if solana.InvokesProgram(tx, solana.VoteProgramID) {
			n.table.AppendVote(VoteTransaction{Slot: slot, Tx: tx})
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
