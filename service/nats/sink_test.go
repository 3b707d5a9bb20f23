package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlock() *solana.Block {
	return &solana.Block{
		Slot:      77,
		Blockhash: "bh77",
		Transactions: []solana.TransactionWithMeta{
			{Transaction: &solana.JSONTransaction{
				Signatures: []string{"sig1"},
				Message:    &solana.RawMessage{RecentBlockhash: "rb"},
			}},
		},
	}
}

func TestSink_HandleBlock(t *testing.T) {
	pub := NewMockPublisher()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sink := NewSink(pub, "devnet", false, m, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, sink.HandleBlock(context.Background(), testBlock()))

	published := pub.GetPublished()
	require.Len(t, published, 1)
	msg := published[0]
	assert.Equal(t, "blocks.devnet", msg.Subject())
	assert.Equal(t, uint64(77), msg.Slot)
	assert.Equal(t, "devnet", msg.Cluster)
	assert.Equal(t, 1, msg.TransactionCount)
	assert.False(t, msg.PublishedAt.IsZero())

	require.NoError(t, sink.Close())
	assert.True(t, pub.IsClosed())
}

func TestSink_PublishError(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	sink := NewSink(pub, "devnet", false, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := sink.HandleBlock(context.Background(), testBlock())
	require.Error(t, err)
	assert.Empty(t, pub.GetPublished())
}

func TestBlockMessage_JSON(t *testing.T) {
	msg := FromBlock("", testBlock(), false)
	assert.Equal(t, "blocks.default", msg.Subject())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(77), decoded["slot"])
	assert.Equal(t, "bh77", decoded["blockhash"])
	assert.Contains(t, decoded, "published_at")
	assert.Contains(t, decoded, "transactions")
}

type limitedPublisher struct {
	*MockPublisher
	limit int64
}

func (p limitedPublisher) MaxPayload() int64 { return p.limit }

func TestSink_OversizedBlockIsSummarized(t *testing.T) {
	pub := limitedPublisher{MockPublisher: NewMockPublisher(), limit: 200}
	sink := NewSink(pub, "devnet", false, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 200, sink.maxPayload)

	block := testBlock()
	for i := 0; i < 10; i++ {
		block.Transactions = append(block.Transactions, block.Transactions[0])
	}
	require.NoError(t, sink.HandleBlock(context.Background(), block))

	published := pub.GetPublished()
	require.Len(t, published, 1)
	msg := published[0]
	assert.True(t, msg.Truncated)
	assert.Empty(t, msg.Transactions)
	assert.Equal(t, 11, msg.TransactionCount)
	assert.Equal(t, "bh77", msg.Blockhash)
}

func TestBlockMessage_Fit(t *testing.T) {
	msg := FromBlock("devnet", testBlock(), false)
	truncated, err := msg.Fit(DefaultMaxPayload)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, msg.Transactions, 1)
}
