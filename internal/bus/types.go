package bus

import "context"

// Peer kinds carried on InboundMessage.PeerKind / OutboundMessage.PeerKind.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// MessageElement is one typed piece of a chat message exchanged with the host.
// Type is one of "text", "at", "image", "reply", or any platform-specific kind.
type MessageElement struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	TargetID string `json:"targetId,omitempty"` // at: user id or "all"
	Name     string `json:"name,omitempty"`     // at: display name; file: file name
	File     string `json:"file,omitempty"`     // image/file: URL, path, base64:// or pending handle
}

// InboundMessage represents a message received from a channel.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Media     []string          `json:"media,omitempty"`
	Elements  []MessageElement  `json:"elements,omitempty"`
	PeerKind  string            `json:"peer_kind,omitempty"` // "direct" or "group"
	UserID    string            `json:"user_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Time      int64             `json:"time,omitempty"` // unix seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Content  string            `json:"content"`
	Elements []MessageElement  `json:"elements,omitempty"` // takes precedence over Content/Media when set
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// Event represents a server-side event to broadcast to subscribers
// (gateway WebSocket clients, loggers).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels and the host.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
