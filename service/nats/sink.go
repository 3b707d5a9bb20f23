package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
)

// Sink publishes every block it handles. A block too large for one
// message is published as a summary without its transactions.
type Sink struct {
	publisher    Publisher
	cluster      string
	decodeBinary bool
	maxPayload   int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewSink creates a Sink publishing through p. The payload limit is taken
// from p when it reports one and DefaultMaxPayload otherwise.
func NewSink(p Publisher, cluster string, decodeBinary bool, m *metrics.Metrics, logger *slog.Logger) *Sink {
	maxPayload := DefaultMaxPayload
	if l, ok := p.(interface{ MaxPayload() int64 }); ok && l.MaxPayload() > 0 {
		maxPayload = int(l.MaxPayload())
	}
	return &Sink{
		publisher:    p,
		cluster:      cluster,
		decodeBinary: decodeBinary,
		maxPayload:   maxPayload,
		metrics:      m,
		logger:       logger,
	}
}

func (s *Sink) HandleBlock(ctx context.Context, block *solana.Block) error {
	start := time.Now()
	msg := FromBlock(s.cluster, block, s.decodeBinary)
	truncated, err := msg.Fit(s.maxPayload)
	if err != nil {
		return err
	}
	if truncated {
		s.logger.WarnContext(ctx, "block exceeds NATS max payload, publishing summary",
			"slot", block.Slot,
			"transactions", msg.TransactionCount,
			"max_payload", s.maxPayload,
		)
	}
	err = s.publisher.PublishBlock(ctx, msg)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordSinkPublish("nats", status, time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish block to NATS",
			"slot", block.Slot,
			"error", err,
		)
	}
	return err
}

// Close closes the underlying publisher.
func (s *Sink) Close() error {
	return s.publisher.Close()
}
