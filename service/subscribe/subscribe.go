// Package subscribe listens to pushed block notifications over the RPC
// websocket. A stream error ends the listen loop; there is no reconnect.
package subscribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/slotwatch/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// BlockStream yields the slot of each pushed block notification.
type BlockStream interface {
	Recv(ctx context.Context) (uint64, error)
	Close()
}

// SlotPrinter prints one notification.
type SlotPrinter interface {
	ReportSlotNotification(slot uint64) error
}

// Options is the blockSubscribe configuration.
type Options struct {
	Commitment rpc.CommitmentType
	Encoding   string
}

// DefaultOptions subscribes to confirmed blocks in base64.
func DefaultOptions() Options {
	return Options{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   "base64",
	}
}

// Subscribe connects to wsURL and subscribes to every block with full
// transaction details, no rewards, and version 0 transactions allowed.
func Subscribe(ctx context.Context, wsURL string, opts Options) (BlockStream, error) {
	client, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", wsURL, err)
	}

	rewards := false
	version := uint64(0)
	sub, err := client.BlockSubscribe(
		ws.NewBlockSubscribeFilterAll(),
		&ws.BlockSubscribeOpts{
			Commitment:                     opts.Commitment,
			Encoding:                       solanago.EncodingType(opts.Encoding),
			TransactionDetails:             rpc.TransactionDetailsFull,
			Rewards:                        &rewards,
			MaxSupportedTransactionVersion: &version,
		},
	)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &wsBlockStream{client: client, sub: sub}, nil
}

type wsBlockStream struct {
	client *ws.Client
	sub    *ws.BlockSubscription
}

func (s *wsBlockStream) Recv(ctx context.Context) (uint64, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return 0, err
	}
	return res.Value.Slot, nil
}

func (s *wsBlockStream) Close() {
	s.sub.Unsubscribe()
	s.client.Close()
}

// Listen prints every notification from stream until the stream fails or
// ctx is cancelled. The first stream error is logged and returned.
func Listen(ctx context.Context, stream BlockStream, printer SlotPrinter, m *metrics.Metrics, logger *slog.Logger) error {
	for {
		slot, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorContext(ctx, "Block Subscription Error", "error", err)
			if m != nil {
				m.RecordSubscriptionNotification("error")
			}
			return fmt.Errorf("block subscription: %w", err)
		}
		if m != nil {
			m.RecordSubscriptionNotification("ok")
		}
		if err := printer.ReportSlotNotification(slot); err != nil {
			return err
		}
	}
}
