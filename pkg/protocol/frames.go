package protocol

import "time"

// Frame types.
const (
	FrameTypeEvent = "event"
)

// EventFrame is a server → client push over /ws.
type EventFrame struct {
	Type     string      `json:"type"`
	Version  int         `json:"version"`
	Name     string      `json:"event"`
	Payload  interface{} `json:"payload,omitempty"`
	SentAtMs int64       `json:"ts"`
}

// NewEvent builds an event frame stamped with the current time.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:     FrameTypeEvent,
		Version:  ProtocolVersion,
		Name:     name,
		Payload:  payload,
		SentAtMs: time.Now().UnixMilli(),
	}
}
