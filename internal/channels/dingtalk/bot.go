package dingtalk

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels"
	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/store"
)

// ForwardPlaceholder replaces merged-forward messages, which no transport
// can deliver.
const ForwardPlaceholder = "[不支持合并转发] 请改用普通文本/图片发送"

// commandHook intercepts inbound messages; returning true consumes them.
type commandHook func(ctx context.Context, b *Bot, msg bus.InboundMessage) bool

// BotDeps are the shared collaborators a Bot is built with.
type BotDeps struct {
	Global    *config.Config
	Bus       bus.MessageRouter
	Events    bus.EventPublisher
	Sessions  *SessionWebhookCache
	Bindings  store.WebhookBindingStore
	PublicURL PublicURLUploader

	// Base URL overrides, for tests and private deployments.
	OpenAPIBaseURL string
	OAPIBaseURL    string

	commands commandHook
}

// Bot is one DingTalk account exposed as a channel.
type Bot struct {
	*channels.BaseChannel

	account    config.DingTalkAccount
	api        *OpenAPIClient
	legacy     *OAPIClient
	router     *SendRouter
	recaller   *Recaller
	dispatcher *StreamEventDispatcher
	stream     *StreamClient
	commands   commandHook
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ channels.Channel       = (*Bot)(nil)
	_ channels.ResultChannel = (*Bot)(nil)
	_ channels.RecallChannel = (*Bot)(nil)
	_ channels.StatusChannel = (*Bot)(nil)
)

// NewBot wires the clients, router and dispatcher for one validated account.
func NewBot(account config.DingTalkAccount, deps BotDeps) *Bot {
	global := deps.Global
	if global == nil {
		global = config.Default()
	}
	selfID := account.SelfID()
	debug := account.Debug || global.DebugGlobal
	log := slog.Default().With("bot", selfID)

	b := &Bot{
		BaseChannel: channels.NewBaseChannel(selfID, deps.Bus, account.AllowFrom),
		account:     account,
		commands:    deps.commands,
		log:         log,
	}

	b.api = NewOpenAPIClient(OpenAPIOptions{
		AccountID:    account.AccountID,
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
		CorpID:       account.CorpID,
		RobotCode:    account.RobotCode,
		BaseURL:      deps.OpenAPIBaseURL,
		Debug:        debug,
	})
	b.legacy = NewOAPIClient(OAPIOptions{
		AccountID:    account.AccountID,
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
		BaseURL:      deps.OAPIBaseURL,
		Debug:        debug,
	})

	b.router = NewSendRouter(SendRouterOptions{
		AccountID:         account.AccountID,
		SelfID:            selfID,
		Webhook:           account.Webhook,
		WebhookSecret:     account.WebhookSecret,
		DefaultWebhook:    global.FallbackWebhook,
		RobotCode:         account.RobotCode,
		EnableOpenAPISend: account.EnableOpenAPISend,
		PublicImageBed:    func() bool { return account.PublicImageBed(global.PublicImageBedEnabled()) },
		InlineImageShrink: account.InlineImageShrink,
		AtUserIDMap:       account.AtUserIDMap,
		Sessions:          deps.Sessions,
		Bindings:          deps.Bindings,
		API:               b.api,
		Legacy:            b.legacy,
		Webhooks:          NewWebhookClient(),
		Files:             NewFileResolver(),
		PublicURL:         deps.PublicURL,
		Logger:            log,
	})
	b.recaller = NewRecaller(selfID, b.api, b.robotCode, log)

	media := NewMediaResolver(b.api, account.OpenAPIDownloadEnabled(), b.robotCodeFromEvent, log)
	b.dispatcher = NewStreamEventDispatcher(DispatcherOptions{
		AccountID: account.AccountID,
		SelfID:    selfID,
		Learner:   b.api,
		Sessions:  deps.Sessions,
		Media:     media,
		OnMessage: b.onMessage,
		Events:    deps.Events,
		Logger:    log,
	})
	b.stream = NewStreamClient(StreamOptions{
		ClientID:      account.ClientID,
		ClientSecret:  account.ClientSecret,
		Topics:        Topics(account.ExtraTopics),
		BaseURL:       deps.OpenAPIBaseURL,
		KeepAlive:     account.KeepAliveEnabled(),
		AutoReconnect: account.AutoReconnectEnabled(),
		Logger:        log,
	}, b.dispatcher.HandleFrame)

	return b
}

// AccountID returns the configured account id.
func (b *Bot) AccountID() string { return b.account.AccountID }

// SelfID returns the bot identity "DingDing_<accountId>".
func (b *Bot) SelfID() string { return b.Name() }

// DisplayName returns the configured bot name.
func (b *Bot) DisplayName() string {
	if n := strings.TrimSpace(b.account.BotName); n != "" {
		return n
	}
	return fmt.Sprintf("DingTalkBot (%s)", b.account.AccountID)
}

func (b *Bot) robotCode() string {
	if v := strings.TrimSpace(b.api.RobotCode()); v != "" {
		return v
	}
	return strings.TrimSpace(b.account.RobotCode)
}

func (b *Bot) robotCodeFromEvent(event map[string]any) string {
	if v := pickTruthyString(event, "robotCode", "robot_code"); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return b.robotCode()
}

// --- Lifecycle ---

// Start opens the stream connection in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.SetRunning(true)

	go func(done chan struct{}) {
		defer close(done)
		defer b.SetRunning(false)
		if err := b.stream.Run(runCtx); err != nil {
			b.log.Error("stream stopped", "error", err)
		}
	}(b.done)
	return nil
}

// Stop closes the stream and waits for it to wind down.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the stream connection.
func (b *Bot) Status() channels.ChannelStatus {
	st := b.stream.Status()
	out := channels.ChannelStatus{
		Enabled:   true,
		Running:   b.IsRunning(),
		Online:    st.Connected(),
		Good:      st.Connected() && st.LastError == "",
		LastError: st.LastError,
	}
	if !st.LastMessageAt.IsZero() {
		out.LastMessageAt = st.LastMessageAt.Unix()
	}
	return out
}

// StreamStatus returns the raw stream snapshot.
func (b *Bot) StreamStatus() StreamStatus { return b.stream.Status() }

// --- Inbound ---

func (b *Bot) onMessage(ctx context.Context, msg bus.InboundMessage) {
	if !b.CheckPolicy(msg.PeerKind, b.account.DMPolicy, b.account.GroupPolicy, msg.SenderID) {
		b.log.Debug("inbound message rejected by policy", "peer_kind", msg.PeerKind, "sender", msg.SenderID)
		return
	}
	if b.commands != nil && b.commands(ctx, b, msg) {
		return
	}
	b.log.Debug("inbound message",
		"peer_kind", msg.PeerKind,
		"chat_id", msg.ChatID,
		"sender", msg.SenderID,
		"preview", channels.Truncate(msg.Content, 50),
	)
	if b.Bus() == nil {
		return
	}
	b.HandleMessage(msg)
}

// --- Outbound ---

// DestinationFor maps a bus peer kind (or scene name) and chat id to a Destination.
func DestinationFor(peerKind, chatID string) Destination {
	switch strings.ToLower(strings.TrimSpace(peerKind)) {
	case bus.PeerGroup:
		return GroupDestination(chatID)
	default:
		return DirectDestination(chatID)
	}
}

// Send implements channels.Channel.
func (b *Bot) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := b.SendWithResult(ctx, msg)
	return err
}

// SendWithResult delivers a bus message. Replies prefer the API path when the
// account allows API sends; metadata "prefer_open_api" overrides that.
func (b *Bot) SendWithResult(ctx context.Context, msg bus.OutboundMessage) (*channels.SendResult, error) {
	prefer := b.account.EnableOpenAPISend
	if v, ok := msg.Metadata["prefer_open_api"]; ok {
		if p, err := strconv.ParseBool(v); err == nil {
			prefer = p
		}
	}
	return b.SendMessage(ctx, DestinationFor(msg.PeerKind, msg.ChatID), outboundElements(msg), SendOptions{PreferOpenAPI: prefer})
}

// SendMessage routes elements to dest.
func (b *Bot) SendMessage(ctx context.Context, dest Destination, elements []bus.MessageElement, opts SendOptions) (*channels.SendResult, error) {
	if strings.TrimSpace(dest.Peer) == "" {
		return nil, missing("peer")
	}
	return b.router.Send(ctx, dest, elements, opts)
}

// SendForward degrades a merged-forward message to a plain notice.
func (b *Bot) SendForward(ctx context.Context, dest Destination) (messageID, forwardID string, err error) {
	res, err := b.SendMessage(ctx, dest, []bus.MessageElement{{Type: "text", Text: ForwardPlaceholder}}, SendOptions{})
	if err != nil {
		return "", "", err
	}
	return res.MessageID, res.MessageID, nil
}

// Recall implements channels.RecallChannel.
func (b *Bot) Recall(ctx context.Context, peerKind, chatID, messageID string) bool {
	return b.recaller.Recall(ctx, DestinationFor(peerKind, chatID), messageID)
}

// RecallIn withdraws messageID in dest.
func (b *Bot) RecallIn(ctx context.Context, dest Destination, messageID string) bool {
	return b.recaller.Recall(ctx, dest, messageID)
}

// ResolveWebhook exposes the router's webhook chain for diagnostics.
func (b *Bot) ResolveWebhook(ctx context.Context, dest Destination) *WebhookContext {
	return b.router.ResolveWebhook(ctx, dest)
}

// outboundElements uses msg.Elements when present, else Content plus media.
func outboundElements(msg bus.OutboundMessage) []bus.MessageElement {
	if len(msg.Elements) > 0 {
		return msg.Elements
	}
	var els []bus.MessageElement
	if msg.Content != "" {
		els = append(els, bus.MessageElement{Type: "text", Text: msg.Content})
	}
	for _, m := range msg.Media {
		if m.Caption != "" {
			els = append(els, bus.MessageElement{Type: "text", Text: m.Caption})
		}
		if m.URL != "" {
			els = append(els, bus.MessageElement{Type: "image", File: m.URL})
		}
	}
	return els
}
