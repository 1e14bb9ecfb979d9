package channel

import (
	"context"

	"carebot/pkg/bus"
)

// Handler processes one inbound channel message and returns an outbound reply.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the
// message pipeline.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Broadcaster is implemented by adapters that can push unsolicited messages
// to a fixed list of chats.
type Broadcaster interface {
	Broadcast(ctx context.Context, chatIDs []string, text string) error
}
