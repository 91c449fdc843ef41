// Package channels provides the channel abstraction layer between chat
// platforms and the host. Each bot account is one Channel; channels publish
// canonical inbound messages to the message bus and deliver outbound ones.
//
// Beyond the base contract:
// - DM/Group policies (allowlist, open, disabled)
// - optional recall and status capabilities
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/XuF163/dingbridge/internal/bus"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted groups
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (the bot's self id).
	Name() string

	// Start connects the channel. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// SendResult describes a delivered outbound message.
type SendResult struct {
	MessageID string           `json:"messageId"`
	Time      int64            `json:"time"` // unix seconds
	Raw       []map[string]any `json:"raw,omitempty"`
	Attempts  []SendAttempt    `json:"attempts,omitempty"`
}

// SendAttempt records one leg of an outbound fallback chain.
type SendAttempt struct {
	Leg   string `json:"leg"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// ResultChannel extends Channel with a send that reports the platform message id.
type ResultChannel interface {
	Channel
	SendWithResult(ctx context.Context, msg bus.OutboundMessage) (*SendResult, error)
}

// RecallChannel extends Channel with message recall.
// Recall never fails loudly: it reports whether the platform accepted the recall.
type RecallChannel interface {
	Channel
	Recall(ctx context.Context, peerKind, chatID, messageID string) bool
}

// ChannelStatus is a point-in-time snapshot of a channel's connection.
type ChannelStatus struct {
	Enabled       bool   `json:"enabled"`
	Running       bool   `json:"running"`
	Online        bool   `json:"online"`
	Good          bool   `json:"good"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"` // unix seconds
	LastError     string `json:"lastError,omitempty"`
}

// StatusChannel extends Channel with a detailed status snapshot.
type StatusChannel interface {
	Channel
	Status() ChannelStatus
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   atomic.Bool
	allowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// IsAllowed checks if a sender is permitted by the allowlist.
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if strings.TrimSpace(allowed) == senderID {
			return true
		}
	}
	return false
}

// CheckPolicy evaluates DM/Group policy for a message.
// Returns true if the message should be accepted, false if rejected.
// peerKind is bus.PeerDirect or bus.PeerGroup.
func (c *BaseChannel) CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID string) bool {
	policy := dmPolicy
	if peerKind == bus.PeerGroup {
		policy = groupPolicy
	}

	switch policy {
	case string(DMPolicyDisabled):
		return false
	case string(DMPolicyAllowlist):
		return c.IsAllowed(senderID)
	default: // "open" or unset
		return true
	}
}

// HandleMessage stamps msg with the channel name and publishes it to the bus.
// Messages from senders outside the allowlist are dropped.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID) {
		return false
	}
	msg.Channel = c.name
	if msg.UserID == "" {
		msg.UserID = msg.SenderID
	}
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
