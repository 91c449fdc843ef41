package dingtalk

import (
	"context"
	"sync"

	"github.com/XuF163/dingbridge/internal/store"
)

type apiCall struct {
	Scene     Scene
	Peer      string
	Msg       APIMessage
	RobotCode string
}

type fakeAPI struct {
	mu        sync.Mutex
	robot     string
	sendErr   error
	sendResp  map[string]any
	sends     []apiCall
	recallErr error
	recalls   []apiCall
	recallRes map[string]any
}

func (f *fakeAPI) RobotCode() string { return f.robot }

func (f *fakeAPI) SendGroup(ctx context.Context, cid string, msg APIMessage, robotCode string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, apiCall{SceneGroup, cid, msg, robotCode})
	return f.sendResp, f.sendErr
}

func (f *fakeAPI) SendDirect(ctx context.Context, userIDs []string, msg APIMessage, robotCode string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, apiCall{SceneFriend, userIDs[0], msg, robotCode})
	return f.sendResp, f.sendErr
}

func (f *fakeAPI) RecallGroup(ctx context.Context, cid string, keys []string, robotCode string) (map[string]any, error) {
	f.recalls = append(f.recalls, apiCall{Scene: SceneGroup, Peer: cid, Msg: APIMessage{Content: keys[0]}, RobotCode: robotCode})
	return f.recallRes, f.recallErr
}

func (f *fakeAPI) RecallDirect(ctx context.Context, keys []string, robotCode string) (map[string]any, error) {
	f.recalls = append(f.recalls, apiCall{Scene: SceneFriend, Msg: APIMessage{Content: keys[0]}, RobotCode: robotCode})
	return f.recallRes, f.recallErr
}

type webhookCall struct {
	Kind   string // text, markdown, image
	Target WebhookContext
	Text   string
	At     WebhookAt
}

type fakeWebhooks struct {
	errs  map[string]error
	calls []webhookCall
}

func (f *fakeWebhooks) record(kind string, c webhookCall) (map[string]any, error) {
	c.Kind = kind
	f.calls = append(f.calls, c)
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return map[string]any{"errcode": float64(0)}, nil
}

func (f *fakeWebhooks) SendText(ctx context.Context, target WebhookContext, content string, at WebhookAt) (map[string]any, error) {
	return f.record("text", webhookCall{Target: target, Text: content, At: at})
}

func (f *fakeWebhooks) SendMarkdown(ctx context.Context, target WebhookContext, title, text string, at WebhookAt) (map[string]any, error) {
	return f.record("markdown", webhookCall{Target: target, Text: text, At: at})
}

func (f *fakeWebhooks) SendImage(ctx context.Context, target WebhookContext, b64, md5hex string) (map[string]any, error) {
	return f.record("image", webhookCall{Target: target, Text: md5hex})
}

type memBindings struct {
	items map[string]store.WebhookBinding
}

func newMemBindings() *memBindings { return &memBindings{items: make(map[string]store.WebhookBinding)} }

func (m *memBindings) Bind(ctx context.Context, accountID, groupID, webhook, secret string) error {
	g, w, s, err := store.NormalizeBinding(groupID, webhook, secret)
	if err != nil {
		return err
	}
	m.items[store.BindingKey(accountID, g)] = store.WebhookBinding{Webhook: w, Secret: s}
	return nil
}

func (m *memBindings) Unbind(ctx context.Context, accountID, groupID string) (bool, error) {
	key := store.BindingKey(accountID, groupID)
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

func (m *memBindings) Lookup(ctx context.Context, accountID, groupID string) (*store.WebhookBinding, error) {
	b, ok := m.items[store.BindingKey(accountID, groupID)]
	if !ok || b.Webhook == "" {
		return nil, nil
	}
	return &b, nil
}

func (m *memBindings) List(ctx context.Context, accountID string) ([]store.WebhookBindingEntry, error) {
	var out []store.WebhookBindingEntry
	for k, b := range m.items {
		acct, gid, _ := store.ParseBindingKey(k)
		if accountID == "" || acct == accountID {
			out = append(out, store.WebhookBindingEntry{AccountID: acct, GroupID: gid, WebhookBinding: b})
		}
	}
	store.SortEntries(out)
	return out, nil
}

func (m *memBindings) Close() error { return nil }

var _ store.WebhookBindingStore = (*memBindings)(nil)
