package solana

import (
	"errors"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrBlockNotFound is returned when the node answers getBlock with null.
	ErrBlockNotFound = errors.New("block not found")

	// ErrSlotSkipped is returned when the node reports the slot produced no block.
	ErrSlotSkipped = errors.New("slot was skipped")

	// ErrDecode is returned when a transaction payload cannot be decoded.
	ErrDecode = errors.New("decode error")
)

// RPC error codes the node uses for slots without a retrievable block.
const (
	codeBlockNotAvailable   = -32004
	codeSlotSkipped         = -32007
	codeLongTermStorageMiss = -32009
)

// IsSlotSkipped returns true if the error indicates a skipped or pruned slot.
func IsSlotSkipped(err error) bool {
	if errors.Is(err, ErrSlotSkipped) {
		return true
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeLongTermStorageMiss, codeSlotSkipped, codeBlockNotAvailable:
			return true
		}
	}

	return false
}

// SkipReason classifies a FetchBlock error for logs and metrics.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrBlockNotFound):
		return "not_found"
	case IsSlotSkipped(err):
		return "skipped"
	default:
		return "transient"
	}
}
