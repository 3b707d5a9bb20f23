package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the subset of the Solana JSON-RPC surface we depend on.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetBlocks(
		ctx context.Context,
		startSlot uint64,
		endSlot *uint64,
		commitment rpc.CommitmentType,
	) (rpc.BlocksResult, error)

	// RPCCallForInto is used for getBlock so the transaction payload can be
	// decoded for every encoding, including plain json.
	RPCCallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error

	GetClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error)
}

// BlockOptions are the getBlock request options.
type BlockOptions struct {
	Encoding           string
	TransactionDetails string
	Rewards            bool
	// MaxSupportedTransactionVersion is sent when non-nil. Without it the
	// node rejects any block containing a versioned transaction.
	MaxSupportedTransactionVersion *uint64
}

// DefaultBlockOptions requests full jsonParsed transactions without rewards.
func DefaultBlockOptions() BlockOptions {
	v := uint64(0)
	return BlockOptions{
		Encoding:                       EncodingJSONParsed,
		TransactionDetails:             string(rpc.TransactionDetailsFull),
		Rewards:                        false,
		MaxSupportedTransactionVersion: &v,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint labels metrics (e.g. "devnet" or the RPC host).
	Endpoint   string
	Commitment rpc.CommitmentType
	Block      BlockOptions
}

// Client is the chain data source. It wraps the RPC client with the three
// operations the pollers need and classifies failures.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     ClientConfig
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Block.Encoding == "" {
		cfg.Block = DefaultBlockOptions()
	}
	return &Client{
		rpc:     rpcClient,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// Endpoint returns the metrics label for this client.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// CurrentSlot returns the slot that has reached the configured commitment.
func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, c.cfg.Commitment)
	c.record("getSlot", start, err)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// ListBlocks returns the produced slots in the half-open range [start, end),
// sorted ascending. getBlocks is inclusive on both ends, so end-1 is sent.
func (c *Client) ListBlocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	if end <= start {
		return nil, nil
	}
	last := end - 1

	t := time.Now()
	out, err := c.rpc.GetBlocks(ctx, start, &last, c.cfg.Commitment)
	c.record("getBlocks", t, err)
	if err != nil {
		return nil, fmt.Errorf("get blocks [%d, %d): %w", start, end, err)
	}

	slots := []uint64(out)
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	c.logger.DebugContext(ctx, "listed blocks",
		"start", start,
		"end", end,
		"count", len(slots),
	)
	return slots, nil
}

// FetchBlock fetches a block with the configured options.
func (c *Client) FetchBlock(ctx context.Context, slot uint64) (*Block, error) {
	return c.FetchBlockWithOpts(ctx, slot, c.cfg.Block)
}

// FetchBlockWithOpts fetches and decodes one block. Errors wrap
// ErrBlockNotFound or ErrSlotSkipped, or are transient RPC errors. A
// transaction that cannot be decoded does not fail the block.
func (c *Client) FetchBlockWithOpts(ctx context.Context, slot uint64, opts BlockOptions) (*Block, error) {
	cfg := map[string]interface{}{
		"encoding":           opts.Encoding,
		"transactionDetails": opts.TransactionDetails,
		"rewards":            opts.Rewards,
		"commitment":         c.cfg.Commitment,
	}
	if opts.MaxSupportedTransactionVersion != nil {
		cfg["maxSupportedTransactionVersion"] = *opts.MaxSupportedTransactionVersion
	}

	var raw *rawBlock
	start := time.Now()
	err := c.rpc.RPCCallForInto(ctx, &raw, "getBlock", []interface{}{slot, cfg})
	c.record("getBlock", start, err)

	if err != nil {
		if IsSlotSkipped(err) {
			return nil, fmt.Errorf("%w: slot %d: %v", ErrSlotSkipped, slot, err)
		}
		return nil, fmt.Errorf("get block %d: %w", slot, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrBlockNotFound, slot)
	}

	return decodeBlock(slot, raw), nil
}

// ClusterNodes returns the cluster membership the RPC node knows about.
func (c *Client) ClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error) {
	start := time.Now()
	nodes, err := c.rpc.GetClusterNodes(ctx)
	c.record("getClusterNodes", start, err)
	if err != nil {
		return nil, fmt.Errorf("get cluster nodes: %w", err)
	}
	return nodes, nil
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, context.Canceled) {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.cfg.Endpoint, time.Since(start).Seconds())
}
