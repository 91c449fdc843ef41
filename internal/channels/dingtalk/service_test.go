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

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/config"
)

func boolPtr(v bool) *bool { return &v }

func TestValidateAccount(t *testing.T) {
	got, err := ValidateAccount(config.DingTalkAccount{AccountID: " main ", ClientID: " id ", ClientSecret: "s"})
	if err != nil {
		t.Fatalf("ValidateAccount: %v", err)
	}
	if got.AccountID != "main" || got.ClientID != "id" {
		t.Errorf("not trimmed: %+v", got)
	}

	_, err = ValidateAccount(config.DingTalkAccount{AccountID: "main"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, field := range []string{"clientId", "clientSecret"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("err %q does not mention %s", err, field)
		}
	}
}

func TestService_Init(t *testing.T) {
	cfg := config.Default()
	cfg.EnableDingAdapter = true
	cfg.Accounts = []config.DingTalkAccount{
		{AccountID: "b", ClientID: "id", ClientSecret: "s"},
		{AccountID: "a", ClientID: "id", ClientSecret: "s", BotName: "Alpha"},
		{AccountID: "a", ClientID: "other", ClientSecret: "s"},
		{AccountID: "off", ClientID: "id", ClientSecret: "s", Enable: boolPtr(false)},
		{AccountID: "broken"},
	}
	s := NewService(ServiceOptions{Bindings: newMemBindings()})
	if err := s.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bots := s.Bots()
	if len(bots) != 2 || bots[0].SelfID() != "DingDing_a" || bots[1].SelfID() != "DingDing_b" {
		t.Fatalf("bots = %v", bots)
	}
	if b, ok := s.BotByAccountID("a"); !ok || b.DisplayName() != "Alpha" {
		t.Errorf("BotByAccountID(a) = %v, %v", b, ok)
	}
	if b, _ := s.BotByAccountID("b"); b.DisplayName() != "DingTalkBot (b)" {
		t.Errorf("default display name = %q", b.DisplayName())
	}
	st := s.Status()
	if len(st) != 2 || st[0].Online || st[0].State != "disconnected" {
		t.Errorf("status = %+v", st)
	}
}

func TestService_InitDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableDingAdapter = false
	cfg.Accounts = []config.DingTalkAccount{{AccountID: "a", ClientID: "id", ClientSecret: "s"}}
	s := NewService(ServiceOptions{})
	s.Init(context.Background(), cfg)
	if len(s.Bots()) != 0 {
		t.Errorf("bots registered while adapter disabled")
	}
}

func TestService_BindingsRequireFields(t *testing.T) {
	s := NewService(ServiceOptions{Bindings: newMemBindings()})
	ctx := context.Background()
	if err := s.BindGroupWebhook(ctx, "main", "", "https://h", ""); err == nil {
		t.Error("empty group accepted")
	}
	if err := s.BindGroupWebhook(ctx, "main", "g", " ", ""); err == nil {
		t.Error("empty webhook accepted")
	}
	if err := NewService(ServiceOptions{}).BindGroupWebhook(ctx, "main", "g", "https://h", ""); err == nil {
		t.Error("bind without a store succeeded")
	}
}

// webhookSink is a fake robot webhook collecting posted text.
type webhookSink struct {
	mu    sync.Mutex
	texts []string
}

func (w *webhookSink) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Text struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	w.mu.Lock()
	w.texts = append(w.texts, body.Text.Content)
	w.mu.Unlock()
	rw.Write([]byte(`{"errcode":0}`))
}

func (w *webhookSink) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.texts) == 0 {
		return ""
	}
	return w.texts[len(w.texts)-1]
}

func TestService_Commands(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	cfg := config.Default()
	cfg.EnableDingAdapter = true
	cfg.Masters = config.FlexibleStringSlice{"boss"}
	cfg.Accounts = []config.DingTalkAccount{{AccountID: "main", ClientID: "id", ClientSecret: "s"}}

	bindings := newMemBindings()
	s := NewService(ServiceOptions{Bindings: bindings})
	if err := s.Init(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	b, _ := s.BotByAccountID("main")
	ctx := context.Background()

	group := func(sender, text string) bus.InboundMessage {
		return bus.InboundMessage{SenderID: sender, ChatID: "cid1", PeerKind: bus.PeerGroup, Content: text}
	}

	if s.handleCommand(ctx, b, group("guest", "#ding bind "+srv.URL)) {
		t.Error("non-master command consumed")
	}
	if s.handleCommand(ctx, b, group("boss", "hello ding")) {
		t.Error("plain text consumed")
	}

	if !s.handleCommand(ctx, b, group("boss", "#ding bind "+srv.URL+" sec")) {
		t.Fatal("bind not consumed")
	}
	got, _ := s.BoundGroupWebhook(ctx, "main", "cid1")
	if got == nil || got.Webhook != srv.URL || got.Secret != "sec" {
		t.Fatalf("binding = %+v", got)
	}
	if !strings.Contains(sink.last(), "已绑定群 webhook") {
		t.Errorf("bind reply = %q", sink.last())
	}

	// Direct chat: status goes back over the session webhook.
	s.Sessions().Set("main", SceneFriend, "boss", srv.URL, 0)
	dm := bus.InboundMessage{SenderID: "boss", ChatID: "boss", PeerKind: bus.PeerDirect, Content: "ding status"}
	if !s.handleCommand(ctx, b, dm) {
		t.Fatal("status not consumed")
	}
	if reply := sink.last(); !strings.Contains(reply, "DingDing_main (main) offline") {
		t.Errorf("status reply = %q", reply)
	}

	dm.Content = "#ding bind"
	s.handleCommand(ctx, b, dm)
	if sink.last() != bindUsage {
		t.Errorf("usage reply = %q", sink.last())
	}

	dm.Content = "#ding unbind cid1"
	s.handleCommand(ctx, b, dm)
	if got, _ := s.BoundGroupWebhook(ctx, "main", "cid1"); got != nil {
		t.Errorf("binding survived unbind: %+v", got)
	}
	if !strings.Contains(sink.last(), "已解绑") {
		t.Errorf("unbind reply = %q", sink.last())
	}

	dm.Content = "#ding unbind cid1"
	s.handleCommand(ctx, b, dm)
	if !strings.Contains(sink.last(), "未找到绑定记录") {
		t.Errorf("second unbind reply = %q", sink.last())
	}
}
