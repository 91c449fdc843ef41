package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XuF163/dingbridge/internal/bus"
)

type fakeChannel struct {
	*BaseChannel

	mu       sync.Mutex
	sent     []bus.OutboundMessage
	recalled []string
	started  chan struct{}
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, nil, nil), started: make(chan struct{}, 1)}
}

func (f *fakeChannel) Start(context.Context) error {
	f.SetRunning(true)
	f.started <- struct{}{}
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) SendWithResult(ctx context.Context, msg bus.OutboundMessage) (*SendResult, error) {
	if err := f.Send(ctx, msg); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: "m1"}, nil
}

func (f *fakeChannel) Recall(_ context.Context, _, _, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalled = append(f.recalled, messageID)
	return true
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManager_DispatchesOutbound(t *testing.T) {
	mb := bus.New()
	m := NewManager(mb)
	ch := newFakeChannel("DingDing_main")
	m.RegisterChannel(ch.Name(), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	select {
	case <-ch.started:
	case <-time.After(time.Second):
		t.Fatal("channel not started")
	}

	mb.PublishOutbound(bus.OutboundMessage{Channel: "unknown", ChatID: "x"})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "DingDing_main", ChatID: "cid1", Content: "hi"})

	deadline := time.Now().Add(time.Second)
	for ch.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("outbound message not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if ch.IsRunning() {
		t.Error("channel still running after StopAll")
	}
	if ch.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", ch.sentCount())
	}
}

func TestManager_SendAndRecall(t *testing.T) {
	m := NewManager(bus.New())
	ch := newFakeChannel("a")
	m.RegisterChannel("a", ch)

	res, err := m.SendToChannel(context.Background(), bus.OutboundMessage{Channel: "a", Content: "x"})
	if err != nil || res == nil || res.MessageID != "m1" {
		t.Fatalf("SendToChannel = %+v, %v", res, err)
	}
	if _, err := m.SendToChannel(context.Background(), bus.OutboundMessage{Channel: "b"}); err == nil {
		t.Error("SendToChannel(unknown): want error")
	}

	ok, err := m.RecallOnChannel(context.Background(), "a", bus.PeerGroup, "cid1", "m1")
	if err != nil || !ok {
		t.Errorf("RecallOnChannel = %v, %v", ok, err)
	}
	if _, err := m.RecallOnChannel(context.Background(), "b", bus.PeerGroup, "cid1", "m1"); err == nil {
		t.Error("RecallOnChannel(unknown): want error")
	}
}

type sendOnly struct {
	*BaseChannel
	err error
}

func (s *sendOnly) Start(context.Context) error                    { return nil }
func (s *sendOnly) Stop(context.Context) error                     { return nil }
func (s *sendOnly) Send(context.Context, bus.OutboundMessage) error { return s.err }

func TestManager_BasicChannel(t *testing.T) {
	m := NewManager(bus.New())
	boom := errors.New("boom")
	m.RegisterChannel("s", &sendOnly{BaseChannel: NewBaseChannel("s", nil, nil), err: boom})

	res, err := m.SendToChannel(context.Background(), bus.OutboundMessage{Channel: "s"})
	if res != nil || !errors.Is(err, boom) {
		t.Errorf("SendToChannel = %+v, %v, want nil, boom", res, err)
	}
	if _, err := m.RecallOnChannel(context.Background(), "s", bus.PeerDirect, "u1", "m1"); err == nil {
		t.Error("RecallOnChannel on non-recall channel: want error")
	}

	st := m.GetStatus()
	if s, ok := st["s"]; !ok || !s.Enabled || s.Running {
		t.Errorf("GetStatus[s] = %+v", s)
	}
	if got := m.GetEnabledChannels(); len(got) != 1 || got[0] != "s" {
		t.Errorf("GetEnabledChannels = %v", got)
	}

	m.UnregisterChannel("s")
	if _, ok := m.GetChannel("s"); ok {
		t.Error("channel still registered after UnregisterChannel")
	}
}
