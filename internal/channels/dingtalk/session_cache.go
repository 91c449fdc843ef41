package dingtalk

import (
	"strings"
	"sync"
	"time"
)

// Scene is the conversation kind of a destination.
type Scene string

const (
	SceneGroup  Scene = "group"
	SceneFriend Scene = "friend"
)

// SceneFromConversationType maps the vendor conversationType ("2" = group).
func SceneFromConversationType(v any) Scene {
	if toStr(v) == "2" {
		return SceneGroup
	}
	return SceneFriend
}

// Destination is a send target: a group conversation or a single user.
type Destination struct {
	Scene Scene
	Peer  string
}

// GroupDestination targets a group conversation.
func GroupDestination(id string) Destination { return Destination{Scene: SceneGroup, Peer: id} }

// DirectDestination targets a one-to-one chat.
func DirectDestination(userID string) Destination { return Destination{Scene: SceneFriend, Peer: userID} }

type sessionWebhook struct {
	url      string
	expireAt int64 // unix ms; 0 = never
}

// SessionWebhookCache maps (account, scene, peer) to the short-lived webhook
// that inbound events carry. Shared by all accounts of a process.
type SessionWebhookCache struct {
	mu    sync.Mutex
	items map[string]sessionWebhook
	now   func() time.Time
}

// NewSessionWebhookCache creates an empty cache.
func NewSessionWebhookCache() *SessionWebhookCache {
	return &SessionWebhookCache{
		items: make(map[string]sessionWebhook),
		now:   time.Now,
	}
}

func sessionKey(accountID string, scene Scene, peer string) string {
	return accountID + "|" + string(scene) + "|" + peer
}

// Set stores a session webhook. Empty webhooks are ignored; expireAtMs <= 0
// means no expiry.
func (c *SessionWebhookCache) Set(accountID string, scene Scene, peer, webhook string, expireAtMs int64) {
	webhook = strings.TrimSpace(webhook)
	if webhook == "" {
		return
	}
	if expireAtMs < 0 {
		expireAtMs = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[sessionKey(accountID, scene, peer)] = sessionWebhook{url: webhook, expireAt: expireAtMs}
}

// Get returns the cached webhook. Entries are evicted on access once the
// current time is strictly past their expiry.
func (c *SessionWebhookCache) Get(accountID string, scene Scene, peer string) (string, bool) {
	key := sessionKey(accountID, scene, peer)
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return "", false
	}
	if it.expireAt > 0 && c.now().UnixMilli() > it.expireAt {
		delete(c.items, key)
		return "", false
	}
	return it.url, true
}
