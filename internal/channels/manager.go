package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/XuF163/dingbridge/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels     map[string]Channel
	bus          bus.MessageRouter
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager(msgBus bus.MessageRouter) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// StartAll starts all registered channels and the outbound dispatch loop.
// A channel that fails to start is logged and skipped; the others keep going.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.dispatchTask = task
	go func() {
		defer close(task.done)
		m.dispatchOutbound(dispatchCtx)
	}()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels", "count", len(m.channels))

	for name, channel := range m.channels {
		// Each bot connects in the background: a slow handshake must not
		// delay the others.
		go func(name string, ch Channel) {
			slog.Info("starting channel", "channel", name)
			if err := ch.Start(ctx); err != nil {
				slog.Error("failed to start channel", "channel", name, "error", err)
			}
		}(name, channel)
	}
	return nil
}

// StopAll gracefully stops all channels and the outbound dispatch loop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		<-m.dispatchTask.done
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and routes them
// to the appropriate channel.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("error sending message to channel",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"error", err,
			)
		}
	}
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetStatus returns the status of all channels keyed by name.
func (m *Manager) GetStatus() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ChannelStatus, len(m.channels))
	for name, channel := range m.channels {
		if sc, ok := channel.(StatusChannel); ok {
			status[name] = sc.Status()
			continue
		}
		status[name] = ChannelStatus{
			Enabled: true,
			Running: channel.IsRunning(),
		}
	}
	return status
}

// GetEnabledChannels returns the sorted names of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// SendToChannel delivers a message to a specific channel by name and returns
// the delivery result when the channel reports one.
func (m *Manager) SendToChannel(ctx context.Context, msg bus.OutboundMessage) (*SendResult, error) {
	m.mu.RLock()
	channel, exists := m.channels[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("channel %s not found", msg.Channel)
	}

	if rc, ok := channel.(ResultChannel); ok {
		return rc.SendWithResult(ctx, msg)
	}
	return nil, channel.Send(ctx, msg)
}

// RecallOnChannel asks a channel to recall a previously sent message.
func (m *Manager) RecallOnChannel(ctx context.Context, channelName, peerKind, chatID, messageID string) (bool, error) {
	m.mu.RLock()
	channel, exists := m.channels[channelName]
	m.mu.RUnlock()

	if !exists {
		return false, fmt.Errorf("channel %s not found", channelName)
	}
	rc, ok := channel.(RecallChannel)
	if !ok {
		return false, fmt.Errorf("channel %s does not support recall", channelName)
	}
	return rc.Recall(ctx, peerKind, chatID, messageID), nil
}
