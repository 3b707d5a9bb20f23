package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/slotwatch/service/report"
	"github.com/brojonat/slotwatch/service/solana"
)

// BlockMessage is a block published to NATS.
// This is published to the subject "blocks.{cluster}" in JetStream.
type BlockMessage struct {
	report.BlockEvent

	// Cluster labels the RPC endpoint the block came from.
	Cluster string `json:"cluster"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromBlock converts a fetched block to a BlockMessage for publishing.
func FromBlock(cluster string, block *solana.Block, decodeBinary bool) *BlockMessage {
	return &BlockMessage{
		BlockEvent:  report.NewBlockEvent(block, decodeBinary),
		Cluster:     cluster,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the JetStream subject for msg.
func (msg *BlockMessage) Subject() string {
	cluster := msg.Cluster
	if cluster == "" {
		cluster = "default"
	}
	return fmt.Sprintf("blocks.%s", cluster)
}

// DefaultMaxPayload is the NATS server's default max_payload.
const DefaultMaxPayload = 1 << 20

// Fit replaces the transactions with a summary when the encoded message
// would exceed maxPayload. It reports whether the message was truncated.
func (msg *BlockMessage) Fit(maxPayload int) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal block message: %w", err)
	}
	if maxPayload <= 0 || len(data) <= maxPayload {
		return false, nil
	}
	msg.BlockEvent = msg.BlockEvent.Summary()
	return true, nil
}
