// Package kafka publishes observed blocks to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/report"
	"github.com/brojonat/slotwatch/service/solana"
	"github.com/brojonat/slotwatch/service/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultMaxMessageBytes matches the broker's default message.max.bytes.
const DefaultMaxMessageBytes = 1 << 20

// Producer writes one message per block. A block too large for one message
// is written as a summary without its transactions.
type Producer struct {
	writer       MessageWriter
	topic        string
	decodeBinary bool
	maxBytes     int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// ProducerConfig configures NewProducer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	DecodeBinary bool
	// MaxMessageBytes defaults to DefaultMaxMessageBytes.
	MaxMessageBytes int
}

// NewProducer creates a Producer backed by a kafka.Writer.
func NewProducer(cfg ProducerConfig, m *metrics.Metrics, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
		BatchBytes:   int64(maxBytes),
	}
	p := NewProducerWithWriter(writer, cfg.Topic, cfg.DecodeBinary, m, logger)
	p.maxBytes = maxBytes
	return p, nil
}

// NewProducerWithWriter creates a Producer over an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string, decodeBinary bool, m *metrics.Metrics, logger *slog.Logger) *Producer {
	return &Producer{
		writer:       w,
		topic:        topic,
		decodeBinary: decodeBinary,
		maxBytes:     DefaultMaxMessageBytes,
		metrics:      m,
		logger:       logger,
	}
}

// HandleBlock publishes block keyed by its slot.
func (p *Producer) HandleBlock(ctx context.Context, block *solana.Block) error {
	ctx, span := otel.Tracer("slotwatch/kafka").Start(ctx, "kafka.publish_block", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("block.slot", int64(block.Slot)),
		attribute.String("block.hash", block.Blockhash),
		attribute.Int("block.transactions", len(block.Transactions)),
	)

	start := time.Now()
	err := p.publish(ctx, block)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WarnContext(ctx, "failed to publish block to kafka",
			"slot", block.Slot,
			"error", err,
		)
	}
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordSinkPublish("kafka", status, time.Since(start).Seconds())
	}
	return err
}

func (p *Producer) publish(ctx context.Context, block *solana.Block) error {
	ev := report.NewBlockEvent(block, p.decodeBinary)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if len(payload) > p.maxBytes {
		p.logger.WarnContext(ctx, "block exceeds kafka message limit, publishing summary",
			"slot", block.Slot,
			"transactions", ev.TransactionCount,
			"bytes", len(payload),
			"max_bytes", p.maxBytes,
		)
		if payload, err = json.Marshal(ev.Summary()); err != nil {
			return fmt.Errorf("marshal block summary: %w", err)
		}
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(fmt.Sprintf("slot:%d", block.Slot)),
		Value:   payload,
		Headers: headers,
	})
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
