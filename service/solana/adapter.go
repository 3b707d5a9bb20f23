package solana

import (
	"context"

	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the solana-go RPC client to our RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return r.client.GetSlot(ctx, commitment)
}

func (r *realRPCClient) GetBlocks(
	ctx context.Context,
	startSlot uint64,
	endSlot *uint64,
	commitment rpc.CommitmentType,
) (rpc.BlocksResult, error) {
	return r.client.GetBlocks(ctx, startSlot, endSlot, commitment)
}

func (r *realRPCClient) RPCCallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error {
	return r.client.RPCCallForInto(ctx, out, method, params)
}

func (r *realRPCClient) GetClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error) {
	return r.client.GetClusterNodes(ctx)
}
