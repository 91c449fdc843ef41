package dingtalk

import (
	"strings"
	"testing"

	"github.com/XuF163/dingbridge/pkg/protocol"
)

func TestSanitizeEventSegment(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unknown"},
		{"   ", "unknown"},
		{"/v1.0/im/bot/messages/get", "v1_0_im_bot_messages_get"},
		{"chat_update_title", "chat_update_title"},
		{"a..//b", "a_b"},
		{strings.Repeat("x", 80), strings.Repeat("x", 64)},
	}
	for _, tt := range tests {
		if got := SanitizeEventSegment(tt.in); got != tt.want {
			t.Errorf("SanitizeEventSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNoticeEventName(t *testing.T) {
	if got := NoticeEventName(TopicCardCallback); !strings.HasPrefix(got, protocol.EventNoticeCardPrefix) {
		t.Errorf("card topic = %q", got)
	}
	if got := NoticeEventName("chat_update"); got != protocol.EventNoticePrefix+"chat_update" {
		t.Errorf("event topic = %q", got)
	}
}

func TestBuildNotice_UserIDOrder(t *testing.T) {
	data := map[string]any{"staffId": "s", "operatorUserId": "op"}
	e := buildNotice("DingDing_main", "main", "chat_update", data, "{}", nil, fixedNow)
	p := e.Payload.(map[string]any)
	if p["user_id"] != "op" {
		t.Errorf("user_id = %v, want op", p["user_id"])
	}
	if p["time"] != fixedNow.Unix() {
		t.Errorf("time = %v, want now", p["time"])
	}
	if _, ok := p["headers"]; ok {
		t.Error("headers set without a frame")
	}
	if p["notice_type"] != protocol.NoticeTypeEvent {
		t.Errorf("notice_type = %v", p["notice_type"])
	}
}
