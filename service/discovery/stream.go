package discovery

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/ws"
)

// SlotStream yields newly produced slots.
type SlotStream interface {
	Recv(ctx context.Context) (uint64, error)
	Close()
}

// SlotDialer opens a SlotStream.
type SlotDialer func(ctx context.Context) (SlotStream, error)

// WebsocketSlotDialer subscribes to slotSubscribe on wsURL.
func WebsocketSlotDialer(wsURL string) SlotDialer {
	return func(ctx context.Context) (SlotStream, error) {
		client, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", wsURL, err)
		}
		sub, err := client.SlotSubscribe()
		if err != nil {
			client.Close()
			return nil, err
		}
		return &wsSlotStream{client: client, sub: sub}, nil
	}
}

type wsSlotStream struct {
	client *ws.Client
	sub    *ws.SlotSubscription
}

func (s *wsSlotStream) Recv(ctx context.Context) (uint64, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return 0, err
	}
	return res.Slot, nil
}

func (s *wsSlotStream) Close() {
	s.sub.Unsubscribe()
	s.client.Close()
}
