package protocol

// ProtocolVersion is reported by /health and in every frame sent over /ws.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	// EventMessage carries a canonical inbound chat message.
	EventMessage = "message"
	// EventConnected is the first frame a /ws client receives.
	EventConnected = "connected"
	EventShutdown  = "shutdown"

	// Notice events are named "<prefix><sanitized topic>".
	EventNoticeCardPrefix = "notice.dingtalk.card."
	EventNoticePrefix     = "notice.dingtalk.event."

	// EventCacheInvalidate follows a binding change. "cache." events are
	// internal and never forwarded to /ws clients.
	EventCacheInvalidate = "cache.invalidate"
)

// Notice types (payload.notice_type).
const (
	NoticeTypeCard  = "dingtalk_card"
	NoticeTypeEvent = "dingtalk_event"
)
