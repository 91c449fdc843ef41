package cmd

import (
	"context"
	"log/slog"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/pkg/protocol"
)

// consumeInboundMessages drains canonical inbound messages from the bots and
// re-broadcasts them as bus events, which the gateway pushes to /ws clients.
// Blocks until ctx is done.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus) {
	slog.Info("inbound message consumer started")
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		slog.Debug("inbound message",
			"channel", msg.Channel,
			"peer_kind", msg.PeerKind,
			"chat_id", msg.ChatID,
			"sender", msg.SenderID,
			"message_id", msg.MessageID,
		)
		msgBus.Broadcast(bus.Event{Name: protocol.EventMessage, Payload: msg})
	}
}
