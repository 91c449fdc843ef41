package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/XuF163/dingbridge/internal/bus"
)

// callbackLearner back-fills identity learned from inbound events.
type callbackLearner interface {
	UpdateFromCallback(data map[string]any)
}

// DispatcherOptions configures a StreamEventDispatcher.
type DispatcherOptions struct {
	AccountID string
	SelfID    string
	Learner   callbackLearner
	Sessions  *SessionWebhookCache
	Media     *MediaResolver
	// OnMessage receives each canonical inbound message.
	OnMessage func(ctx context.Context, msg bus.InboundMessage)
	// Events receives notice events; nil drops them.
	Events bus.EventPublisher
	Logger *slog.Logger
}

// StreamEventDispatcher turns acknowledged stream frames into canonical
// messages or notice events. It never returns errors: bad frames are logged
// and dropped.
type StreamEventDispatcher struct {
	opts DispatcherOptions
	log  *slog.Logger
	now  func() time.Time
}

// NewStreamEventDispatcher creates a dispatcher.
func NewStreamEventDispatcher(opts DispatcherOptions) *StreamEventDispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &StreamEventDispatcher{opts: opts, log: log, now: time.Now}
}

// HandleFrame processes one frame; it is a FrameHandler.
func (d *StreamEventDispatcher) HandleFrame(ctx context.Context, f *Frame) {
	topic := f.Topic()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("stream handler panic", "topic", topic, "panic", fmt.Sprint(r))
		}
	}()
	d.Dispatch(ctx, topic, f.Data, f)
}

// Dispatch processes one raw event body received on topic.
func (d *StreamEventDispatcher) Dispatch(ctx context.Context, topic, raw string, f *Frame) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		d.log.Warn("invalid event json", "topic", topic, "error", err)
		return
	}

	if d.opts.Learner != nil {
		d.opts.Learner.UpdateFromCallback(data)
	}
	d.updateSessionWebhook(data)

	if topic != TopicRobot && topic != TopicRobotDelegate {
		if d.opts.Events != nil {
			d.opts.Events.Broadcast(buildNotice(d.opts.SelfID, d.opts.AccountID, topic, data, raw, f, d.now()))
		}
		return
	}

	msg, ok := d.buildMessage(ctx, data, f)
	if !ok {
		return
	}
	if d.opts.OnMessage != nil {
		d.opts.OnMessage(ctx, msg)
	}
}

func (d *StreamEventDispatcher) updateSessionWebhook(data map[string]any) {
	if d.opts.Sessions == nil {
		return
	}
	webhook := strings.TrimSpace(toStr(data["sessionWebhook"]))
	if webhook == "" {
		return
	}
	var expireAt int64
	if n, ok := toNumber(data["sessionWebhookExpiredTime"]); ok {
		expireAt = int64(n)
	}

	switch SceneFromConversationType(data["conversationType"]) {
	case SceneGroup:
		if cid := toStr(data["conversationId"]); cid != "" {
			d.opts.Sessions.Set(d.opts.AccountID, SceneGroup, cid, webhook, expireAt)
		}
	default:
		if uid := pickTruthyString(data, "senderStaffId", "senderId"); uid != "" {
			d.opts.Sessions.Set(d.opts.AccountID, SceneFriend, uid, webhook, expireAt)
		}
	}
}

func (d *StreamEventDispatcher) buildMessage(ctx context.Context, data map[string]any, f *Frame) (bus.InboundMessage, bool) {
	segs := ParseSegments(data)
	d.opts.Media.Enrich(ctx, segs, data)
	elements := SegmentsToElements(segs)

	now := d.now()
	messageID := pickTruthyString(data, "msgId")
	if messageID == "" && f != nil {
		messageID = f.MessageID()
	}
	if messageID == "" {
		messageID = fmt.Sprintf("%s_%d", d.opts.SelfID, now.UnixMilli())
	}
	ts := now.Unix()
	if n, ok := toNumber(data["createAt"]); ok && n > 0 {
		ts = int64(n / 1000)
	}

	scene := SceneFromConversationType(data["conversationType"])
	userID := pickTruthyString(data, "senderStaffId", "senderId")
	nickname := toStr(data["senderNick"])
	if nickname == "" {
		nickname = userID
	}
	if nickname == "" {
		nickname = "unknown"
	}

	msg := bus.InboundMessage{
		SenderID:  userID,
		UserID:    userID,
		Content:   elementsText(elements),
		Media:     elementsMedia(elements),
		Elements:  elements,
		MessageID: messageID,
		Time:      ts,
		Metadata: map[string]string{
			"account_id":  d.opts.AccountID,
			"message_id":  messageID,
			"sender_name": nickname,
			"time":        strconv.FormatInt(ts, 10),
		},
	}

	if scene == SceneGroup {
		groupID := toStr(data["conversationId"])
		if groupID == "" || userID == "" {
			d.log.Warn("group message missing conversationId/senderStaffId, skipped")
			return bus.InboundMessage{}, false
		}
		groupName := toStr(data["conversationTitle"])
		if groupName == "" {
			groupName = groupID
		}
		role := "member"
		if truthy(data["isBoss"]) {
			role = "owner"
		} else if truthy(data["isAdmin"]) {
			role = "admin"
		}
		msg.ChatID = groupID
		msg.PeerKind = bus.PeerGroup
		msg.Metadata["group_name"] = groupName
		msg.Metadata["role"] = role
		return msg, true
	}

	if userID == "" {
		d.log.Warn("private message missing senderStaffId, skipped")
		return bus.InboundMessage{}, false
	}
	msg.ChatID = userID
	msg.PeerKind = bus.PeerDirect
	return msg, true
}

func elementsText(els []bus.MessageElement) string {
	var b strings.Builder
	for _, el := range els {
		if el.Type == "text" {
			b.WriteString(el.Text)
		}
	}
	return b.String()
}

func elementsMedia(els []bus.MessageElement) []string {
	var out []string
	for _, el := range els {
		if el.Type == "image" && el.File != "" {
			out = append(out, el.File)
		}
	}
	return out
}
