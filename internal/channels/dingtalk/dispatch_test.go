package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/pkg/protocol"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recordedEvents) Subscribe(id string, handler bus.EventHandler) {}
func (r *recordedEvents) Unsubscribe(id string)                         {}
func (r *recordedEvents) Broadcast(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type recordedLearner struct{ seen []map[string]any }

func (l *recordedLearner) UpdateFromCallback(data map[string]any) { l.seen = append(l.seen, data) }

func newTestDispatcher(onMsg func(context.Context, bus.InboundMessage)) (*StreamEventDispatcher, *SessionWebhookCache, *recordedEvents, *recordedLearner) {
	sessions := NewSessionWebhookCache()
	events := &recordedEvents{}
	learner := &recordedLearner{}
	d := NewStreamEventDispatcher(DispatcherOptions{
		AccountID: "main",
		SelfID:    "DingDing_main",
		Learner:   learner,
		Sessions:  sessions,
		OnMessage: onMsg,
		Events:    events,
	})
	d.now = func() time.Time { return fixedNow }
	return d, sessions, events, learner
}

func TestDispatch_GroupMessage(t *testing.T) {
	var got []bus.InboundMessage
	d, sessions, _, learner := newTestDispatcher(func(ctx context.Context, m bus.InboundMessage) { got = append(got, m) })

	raw := `{"msgtype":"text","text":{"content":" hi "},"conversationType":"2","conversationId":"cid1",
		"conversationTitle":"Team","senderStaffId":"s1","senderNick":"Sam","isAdmin":true,"msgId":"m-1",
		"createAt":1700000001000,"sessionWebhook":"https://session","sessionWebhookExpiredTime":1900000000000,
		"robotCode":"rc"}`
	d.Dispatch(context.Background(), TopicRobot, raw, nil)

	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
	m := got[0]
	if m.PeerKind != bus.PeerGroup || m.ChatID != "cid1" || m.SenderID != "s1" || m.Content != "hi" {
		t.Errorf("message = %+v", m)
	}
	if m.MessageID != "m-1" || m.Time != 1700000001 {
		t.Errorf("id/time = %q/%d", m.MessageID, m.Time)
	}
	if m.Metadata["role"] != "admin" || m.Metadata["group_name"] != "Team" || m.Metadata["sender_name"] != "Sam" {
		t.Errorf("metadata = %v", m.Metadata)
	}
	if hook, ok := sessions.Get("main", SceneGroup, "cid1"); !ok || hook != "https://session" {
		t.Errorf("session webhook = %q, %v", hook, ok)
	}
	if len(learner.seen) != 1 {
		t.Errorf("learner calls = %d, want 1", len(learner.seen))
	}
}

func TestDispatch_DirectMessage(t *testing.T) {
	var got []bus.InboundMessage
	d, sessions, _, _ := newTestDispatcher(func(ctx context.Context, m bus.InboundMessage) { got = append(got, m) })

	d.Dispatch(context.Background(), TopicRobotDelegate, `{"conversationType":"1","senderId":"u9","text":{"content":"yo"},"sessionWebhook":"https://dm"}`, nil)

	if len(got) != 1 || got[0].PeerKind != bus.PeerDirect || got[0].ChatID != "u9" {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].MessageID != "DingDing_main_1700000000000" {
		t.Errorf("synthetic id = %q", got[0].MessageID)
	}
	if got[0].Metadata["sender_name"] != "u9" {
		t.Errorf("sender_name = %q, want user id fallback", got[0].Metadata["sender_name"])
	}
	if _, ok := sessions.Get("main", SceneFriend, "u9"); !ok {
		t.Error("direct session webhook not cached")
	}
}

func TestDispatch_Skips(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"blank", "   "},
		{"invalid json", "{"},
		{"group without sender", `{"conversationType":"2","conversationId":"cid1","text":{"content":"x"}}`},
		{"direct without sender", `{"conversationType":"1","text":{"content":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			d, _, _, _ := newTestDispatcher(func(ctx context.Context, m bus.InboundMessage) { calls++ })
			d.Dispatch(context.Background(), TopicRobot, tt.raw, nil)
			if calls != 0 {
				t.Errorf("OnMessage called %d times", calls)
			}
		})
	}
}

func TestDispatch_Notice(t *testing.T) {
	d, _, events, _ := newTestDispatcher(func(ctx context.Context, m bus.InboundMessage) {
		t.Error("notice topic produced a message")
	})
	f := &Frame{Type: FrameCallback, Headers: map[string]any{"topic": TopicCardCallback, "messageId": "x"}}
	d.Dispatch(context.Background(), TopicCardCallback, `{"userId":"u1","openConversationId":"oc1","createAt":1700000005000}`, f)

	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	e := events.events[0]
	if e.Name != protocol.EventNoticeCardPrefix+"v1_0_card_instances_callback" {
		t.Errorf("event name = %q", e.Name)
	}
	p := e.Payload.(map[string]any)
	if p["notice_type"] != protocol.NoticeTypeCard || p["user_id"] != "u1" || p["open_conversation_id"] != "oc1" {
		t.Errorf("payload = %v", p)
	}
	if p["time"] != int64(1700000005) {
		t.Errorf("time = %v", p["time"])
	}
}

func TestHandleFrame_RecoversPanic(t *testing.T) {
	d, _, _, _ := newTestDispatcher(func(ctx context.Context, m bus.InboundMessage) { panic("boom") })
	f := &Frame{Type: FrameCallback, Headers: map[string]any{"topic": TopicRobot}, Data: `{"senderId":"u1","text":{"content":"x"}}`}
	d.HandleFrame(context.Background(), f)
}

type fakeDownloader struct{ calls int }

func (f *fakeDownloader) DownloadMessageFile(ctx context.Context, code, robotCode string) (string, error) {
	f.calls++
	if code == "bad" {
		return "", errors.New("expired")
	}
	return "https://dl/" + code + "?rc=" + robotCode, nil
}

func TestMediaResolver_Enrich(t *testing.T) {
	dl := &fakeDownloader{}
	r := NewMediaResolver(dl, true, func(map[string]any) string { return "rc" }, nil)
	segs := []Segment{
		{Kind: SegmentImage, FileRef: pendingRef("a")},
		{Kind: SegmentImage, FileRef: pendingRef("a")},
		{Kind: SegmentFile, FileRef: pendingRef("bad")},
		{Kind: SegmentText, Text: "x"},
	}
	r.Enrich(context.Background(), segs, nil)

	if segs[0].FileRef != "https://dl/a?rc=rc" || segs[1].FileRef != segs[0].FileRef {
		t.Errorf("resolved refs = %q, %q", segs[0].FileRef, segs[1].FileRef)
	}
	if segs[2].FileRef != pendingRef("bad") {
		t.Errorf("failed ref = %q, want placeholder kept", segs[2].FileRef)
	}
	if dl.calls != 2 {
		t.Errorf("download calls = %d, want 2", dl.calls)
	}

	disabled := NewMediaResolver(dl, false, func(map[string]any) string { return "rc" }, nil)
	segs = []Segment{{Kind: SegmentImage, FileRef: pendingRef("z")}}
	disabled.Enrich(context.Background(), segs, nil)
	if !segs[0].IsPending() {
		t.Error("disabled resolver touched segments")
	}
}

// --- Stream client against a fake gateway ---

func TestStreamClient_AcksAndDispatches(t *testing.T) {
	acks := make(chan ackFrame, 4)
	openBodies := make(chan map[string]any, 1)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1.0/gateway/connections/open", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		openBodies <- body
		json.NewEncoder(w).Encode(map[string]string{
			"endpoint": "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/connect",
			"ticket":   "tk-1",
		})
	})
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticket") != "tk-1" {
			http.Error(w, "bad ticket", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		send := func(f Frame) {
			data, _ := json.Marshal(f)
			conn.Write(ctx, websocket.MessageText, data)
		}
		read := func() {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var a ackFrame
			json.Unmarshal(data, &a)
			acks <- a
		}

		send(Frame{Type: FrameCallback, Headers: map[string]any{"topic": TopicRobot, "messageId": "cb-1"},
			Data: `{"conversationType":"1","senderStaffId":"u1","text":{"content":"hello"}}`})
		read()
		send(Frame{Type: FrameEvent, Headers: map[string]any{"topic": "chat_update", "messageId": "ev-1"}, Data: `{}`})
		read()
		send(Frame{Type: FrameSystem, Headers: map[string]any{"topic": "ping", "messageId": "p-1"}, Data: `{"opaque":"x"}`})
		read()
		send(Frame{Type: FrameSystem, Headers: map[string]any{"topic": "disconnect"}})
		conn.Read(ctx)
	})

	frames := make(chan *Frame, 4)
	c := NewStreamClient(StreamOptions{
		ClientID:     "cid",
		ClientSecret: "secret",
		Topics:       Topics(nil),
		BaseURL:      srv.URL,
	}, func(ctx context.Context, f *Frame) { frames <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, errServerDisconnect) {
		t.Fatalf("Run = %v, want errServerDisconnect", err)
	}

	openBody := <-openBodies
	if openBody["clientId"] != "cid" {
		t.Errorf("open clientId = %v", openBody["clientId"])
	}
	subs, _ := openBody["subscriptions"].([]any)
	if len(subs) != 1+len(Topics(nil)) {
		t.Errorf("subscriptions = %v", subs)
	}

	want := []struct {
		id   string
		data string
	}{
		{"cb-1", callbackAckData},
		{"ev-1", eventAckData},
		{"p-1", `{"opaque":"x"}`},
	}
	for i, w := range want {
		select {
		case a := <-acks:
			if a.Code != 200 || toStr(a.Headers["messageId"]) != w.id || a.Data != w.data {
				t.Errorf("ack[%d] = %+v, want id %s", i, a, w.id)
			}
		default:
			t.Fatalf("ack[%d] missing", i)
		}
	}

	select {
	case f := <-frames:
		if f.MessageID() != "cb-1" {
			t.Errorf("dispatched frame = %q, want cb-1", f.MessageID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback frame not dispatched")
	}
	select {
	case f := <-frames:
		t.Errorf("unexpected dispatch of %q", f.MessageID())
	default:
	}

	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
	if c.Status().LastConnectAt.IsZero() {
		t.Error("LastConnectAt not recorded")
	}
}

func TestStreamClient_OpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer srv.Close()

	c := NewStreamClient(StreamOptions{ClientID: "x", ClientSecret: "y", BaseURL: srv.URL}, nil)
	err := c.Run(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusUnauthorized {
		t.Fatalf("Run = %v, want 401 TransportError", err)
	}
	if c.Status().LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestTopics(t *testing.T) {
	got := Topics([]string{" /x ", TopicRobot, "", "/x"})
	if len(got) != 4 || got[3] != "/x" {
		t.Errorf("Topics = %v", got)
	}
}
