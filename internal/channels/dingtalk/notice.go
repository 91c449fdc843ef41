package dingtalk

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/pkg/protocol"
)

const maxEventSegment = 64

var (
	nonSegmentChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// SanitizeEventSegment turns a topic into an event-name segment.
func SanitizeEventSegment(v string) string {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return "unknown"
	}
	s := strings.TrimLeft(raw, "/")
	s = nonSegmentChars.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	if len(s) > maxEventSegment {
		s = s[:maxEventSegment]
	}
	return s
}

// NoticeEventName returns the bus event name for a non-message topic.
func NoticeEventName(topic string) string {
	if topic == TopicCardCallback {
		return protocol.EventNoticeCardPrefix + SanitizeEventSegment(topic)
	}
	return protocol.EventNoticePrefix + SanitizeEventSegment(topic)
}

// buildNotice assembles the notice payload for a non-message topic.
func buildNotice(selfID, accountID, topic string, data map[string]any, raw string, f *Frame, now time.Time) bus.Event {
	noticeType := protocol.NoticeTypeEvent
	if topic == TopicCardCallback {
		noticeType = protocol.NoticeTypeCard
	}

	ts := now.Unix()
	if n, ok := toNumber(firstTruthy(data["createAt"], data["eventTime"], data["timestamp"])); ok && n > 0 {
		ts = int64(n / 1000)
	}

	payload := map[string]any{
		"id":          uuid.NewString(),
		"post_type":   "notice",
		"notice_type": noticeType,
		"self_id":     selfID,
		"user_id":     pickTruthyString(data, "userId", "senderStaffId", "operatorUserId", "staffId", "openId", "unionId"),
		"time":        ts,
		"topic":       topic,
		"event":       data,
		"raw":         raw,
		"account_id":  accountID,
	}
	if f != nil {
		payload["headers"] = f.Headers
	}
	if v := pickTruthyString(data, "conversationId"); v != "" {
		payload["conversation_id"] = v
	}
	if v := pickTruthyString(data, "openConversationId"); v != "" {
		payload["open_conversation_id"] = v
	}
	return bus.Event{Name: NoticeEventName(topic), Payload: payload}
}
