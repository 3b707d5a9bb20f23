package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	slot     uint64
	slotErr  error
	blocks   []uint64
	listErr  error
	bodies   map[uint64]string
	blockErr map[uint64]error
	nodes    []*rpc.GetClusterNodesResult

	lastStart  uint64
	lastEnd    *uint64
	lastParams []interface{}
}

func (m *mockRPCClient) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return m.slot, m.slotErr
}

func (m *mockRPCClient) GetBlocks(
	ctx context.Context,
	startSlot uint64,
	endSlot *uint64,
	commitment rpc.CommitmentType,
) (rpc.BlocksResult, error) {
	m.lastStart = startSlot
	m.lastEnd = endSlot
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append(rpc.BlocksResult(nil), m.blocks...), nil
}

func (m *mockRPCClient) RPCCallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error {
	m.lastParams = params
	slot := params[0].(uint64)
	if err := m.blockErr[slot]; err != nil {
		return err
	}
	body, ok := m.bodies[slot]
	if !ok {
		body = "null"
	}
	return json.Unmarshal([]byte(body), out)
}

func (m *mockRPCClient) GetClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error) {
	return m.nodes, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, ClientConfig{Endpoint: "test"}, nil, logger)
}

const parsedBlockJSON = `{
	"blockhash": "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
	"previousBlockhash": "6kDu5EZxLd6mRYqLjvUDfNbu5f3F6pNmFxNSTmAYD7fb",
	"parentSlot": 104,
	"blockTime": 1700000000,
	"blockHeight": 90,
	"transactions": [
		{
			"transaction": {
				"signatures": ["sig1"],
				"message": {
					"accountKeys": [{"pubkey": "A", "writable": true, "signer": true, "source": "transaction"}],
					"recentBlockhash": "hash1",
					"instructions": [
						{"program": "spl-memo", "programId": "Memo", "parsed": "hello", "stackHeight": null},
						{"programId": "Prog", "accounts": ["A", "B"], "data": "3Bxs4h24hBtQy9rw"}
					]
				}
			},
			"meta": {"err": null, "fee": 5000},
			"version": 0
		},
		{
			"transaction": ["AQID", "base64"],
			"meta": {"err": {"InstructionError": [0, "Custom"]}, "fee": 5000},
			"version": "legacy"
		}
	]
}`

func TestCurrentSlot(t *testing.T) {
	t.Run("returns node slot", func(t *testing.T) {
		c := newTestClient(&mockRPCClient{slot: 100})
		slot, err := c.CurrentSlot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), slot)
	})

	t.Run("wraps error", func(t *testing.T) {
		c := newTestClient(&mockRPCClient{slotErr: errors.New("unreachable")})
		_, err := c.CurrentSlot(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	})
}

func TestListBlocks(t *testing.T) {
	t.Run("requests inclusive end and sorts", func(t *testing.T) {
		mock := &mockRPCClient{blocks: []uint64{105, 101}}
		c := newTestClient(mock)

		slots, err := c.ListBlocks(context.Background(), 100, 110)
		require.NoError(t, err)
		assert.Equal(t, []uint64{101, 105}, slots)
		assert.Equal(t, uint64(100), mock.lastStart)
		require.NotNil(t, mock.lastEnd)
		assert.Equal(t, uint64(109), *mock.lastEnd)
	})

	t.Run("empty range makes no call", func(t *testing.T) {
		mock := &mockRPCClient{listErr: errors.New("should not be called")}
		c := newTestClient(mock)

		slots, err := c.ListBlocks(context.Background(), 10, 10)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("propagates error", func(t *testing.T) {
		c := newTestClient(&mockRPCClient{listErr: errors.New("503")})
		_, err := c.ListBlocks(context.Background(), 100, 110)
		assert.Error(t, err)
	})
}

func TestFetchBlock(t *testing.T) {
	t.Run("decodes parsed and binary transactions", func(t *testing.T) {
		mock := &mockRPCClient{bodies: map[uint64]string{105: parsedBlockJSON}}
		c := newTestClient(mock)

		block, err := c.FetchBlock(context.Background(), 105)
		require.NoError(t, err)

		assert.Equal(t, uint64(105), block.Slot)
		assert.Equal(t, uint64(104), block.ParentSlot)
		require.NotNil(t, block.BlockTime)
		assert.Equal(t, int64(1700000000), block.BlockTime.Unix())
		require.Len(t, block.Transactions, 2)

		first := block.Transactions[0]
		assert.Equal(t, "0", first.Version)
		assert.False(t, first.Meta.Failed())
		jt, ok := first.Transaction.(*JSONTransaction)
		require.True(t, ok)
		assert.Equal(t, []string{"sig1"}, jt.Signatures)
		msg, ok := jt.Message.(*ParsedMessage)
		require.True(t, ok)
		assert.Equal(t, "hash1", msg.RecentBlockhash)
		require.Len(t, msg.Instructions, 2)
		assert.IsType(t, &ParsedInstruction{}, msg.Instructions[0])
		assert.IsType(t, &PartiallyDecodedInstruction{}, msg.Instructions[1])

		second := block.Transactions[1]
		assert.Equal(t, "legacy", second.Version)
		assert.True(t, second.Meta.Failed())
		bt, ok := second.Transaction.(*BinaryTransaction)
		require.True(t, ok)
		data, err := bt.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("sends configured options", func(t *testing.T) {
		mock := &mockRPCClient{bodies: map[uint64]string{7: `{"blockhash":"h","transactions":[]}`}}
		c := newTestClient(mock)

		_, err := c.FetchBlock(context.Background(), 7)
		require.NoError(t, err)

		require.Len(t, mock.lastParams, 2)
		opts := mock.lastParams[1].(map[string]interface{})
		assert.Equal(t, EncodingJSONParsed, opts["encoding"])
		assert.Equal(t, "full", opts["transactionDetails"])
		assert.Equal(t, false, opts["rewards"])
		assert.Equal(t, rpc.CommitmentConfirmed, opts["commitment"])
		assert.Equal(t, uint64(0), opts["maxSupportedTransactionVersion"])
	})

	t.Run("null result is not found", func(t *testing.T) {
		c := newTestClient(&mockRPCClient{})
		_, err := c.FetchBlock(context.Background(), 5)
		assert.ErrorIs(t, err, ErrBlockNotFound)
		assert.Equal(t, "not_found", SkipReason(err))
	})

	t.Run("skipped slot code", func(t *testing.T) {
		mock := &mockRPCClient{blockErr: map[uint64]error{
			5: &jsonrpc.RPCError{Code: -32007, Message: "Slot 5 was skipped"},
		}}
		c := newTestClient(mock)
		_, err := c.FetchBlock(context.Background(), 5)
		assert.ErrorIs(t, err, ErrSlotSkipped)
		assert.Equal(t, "skipped", SkipReason(err))
	})

	t.Run("transient error", func(t *testing.T) {
		mock := &mockRPCClient{blockErr: map[uint64]error{5: errors.New("connection reset")}}
		c := newTestClient(mock)
		_, err := c.FetchBlock(context.Background(), 5)
		require.Error(t, err)
		assert.False(t, IsSlotSkipped(err))
		assert.Equal(t, "transient", SkipReason(err))
	})

	t.Run("undecodable transaction is kept as unsupported", func(t *testing.T) {
		mock := &mockRPCClient{bodies: map[uint64]string{
			7: `{"blockhash":"h","transactions":[
				{"transaction":{"signatures":["ok"],"message":{"accountKeys":[],"recentBlockhash":"r","instructions":[]}}},
				{"transaction":["AA","hex"]},
				{"transaction":42}
			]}`,
		}}
		c := newTestClient(mock)

		block, err := c.FetchBlock(context.Background(), 7)
		require.NoError(t, err)
		require.Len(t, block.Transactions, 3)

		jt, ok := block.Transactions[0].Transaction.(*JSONTransaction)
		require.True(t, ok)
		assert.Equal(t, []string{"ok"}, jt.Signatures)
		assert.IsType(t, &BinaryTransaction{}, block.Transactions[1].Transaction)
		ut, ok := block.Transactions[2].Transaction.(*UnsupportedTransaction)
		require.True(t, ok)
		assert.ErrorIs(t, ut.Err, ErrDecode)
	})
}

func TestIsSlotSkipped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrSlotSkipped, true},
		{"long term storage", &jsonrpc.RPCError{Code: -32009}, true},
		{"not available", &jsonrpc.RPCError{Code: -32004}, true},
		{"other code", &jsonrpc.RPCError{Code: -32603}, false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSlotSkipped(tt.err))
		})
	}
}
