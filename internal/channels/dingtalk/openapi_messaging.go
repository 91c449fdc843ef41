package dingtalk

import (
	"context"
	"encoding/json"
	"strings"
)

// MessageKind selects the API message template.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindMarkdown MessageKind = "markdown"
	KindImage    MessageKind = "image"
)

const defaultMarkdownTitle = "消息"

// APIMessage is an outbound message for the modern robot API.
type APIMessage struct {
	Kind     MessageKind
	Content  string // text body or markdown text
	Title    string // markdown title
	PhotoURL string // image
}

// msgKeyParam maps msg to the API's msgKey and JSON-encoded msgParam.
func (m APIMessage) msgKeyParam() (string, string, error) {
	var (
		key   string
		param any
	)
	switch m.Kind {
	case KindMarkdown:
		title := m.Title
		if title == "" {
			title = defaultMarkdownTitle
		}
		key, param = "sampleMarkdown", map[string]string{"title": title, "text": m.Content}
	case KindImage:
		if strings.TrimSpace(m.PhotoURL) == "" {
			return "", "", missing("photoURL")
		}
		key, param = "sampleImageMsg", map[string]string{"photoURL": m.PhotoURL}
	default:
		key, param = "sampleText", map[string]string{"content": m.Content}
	}
	data, err := json.Marshal(param)
	if err != nil {
		return "", "", err
	}
	return key, string(data), nil
}

// --- Messaging ---

// SendGroup posts msg to a group conversation.
func (c *OpenAPIClient) SendGroup(ctx context.Context, openConversationID string, msg APIMessage, robotCode string) (map[string]any, error) {
	openConversationID = strings.TrimSpace(openConversationID)
	if openConversationID == "" {
		return nil, missing("openConversationId")
	}
	if robotCode = c.robotCodeOr(robotCode); robotCode == "" {
		return nil, missing("robotCode")
	}
	key, param, err := msg.msgKeyParam()
	if err != nil {
		return nil, err
	}
	return c.request(ctx, "/v1.0/robot/groupMessages/send", map[string]any{
		"msgParam":           param,
		"msgKey":             key,
		"openConversationId": openConversationID,
		"robotCode":          robotCode,
	})
}

// SendDirect posts msg to one or more users in one-to-one chats.
func (c *OpenAPIClient) SendDirect(ctx context.Context, userIDs []string, msg APIMessage, robotCode string) (map[string]any, error) {
	ids := nonEmpty(userIDs)
	if len(ids) == 0 {
		return nil, missing("userIds")
	}
	if robotCode = c.robotCodeOr(robotCode); robotCode == "" {
		return nil, missing("robotCode")
	}
	key, param, err := msg.msgKeyParam()
	if err != nil {
		return nil, err
	}
	return c.request(ctx, "/v1.0/robot/oToMessages/batchSend", map[string]any{
		"msgParam":  param,
		"msgKey":    key,
		"robotCode": robotCode,
		"userIds":   ids,
	})
}

// --- Recall ---

// RecallGroup recalls group messages by their processQueryKeys.
func (c *OpenAPIClient) RecallGroup(ctx context.Context, openConversationID string, keys []string, robotCode string) (map[string]any, error) {
	openConversationID = strings.TrimSpace(openConversationID)
	if openConversationID == "" {
		return nil, missing("openConversationId")
	}
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return nil, missing("processQueryKeys")
	}
	if robotCode = c.robotCodeOr(robotCode); robotCode == "" {
		return nil, missing("robotCode")
	}
	return c.request(ctx, "/v1.0/robot/groupMessages/recall", map[string]any{
		"openConversationId": openConversationID,
		"processQueryKeys":   keys,
		"robotCode":          robotCode,
	})
}

// RecallDirect recalls one-to-one messages by their processQueryKeys.
func (c *OpenAPIClient) RecallDirect(ctx context.Context, keys []string, robotCode string) (map[string]any, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return nil, missing("processQueryKeys")
	}
	if robotCode = c.robotCodeOr(robotCode); robotCode == "" {
		return nil, missing("robotCode")
	}
	// Path casing differs from the send endpoint ("otoMessages").
	return c.request(ctx, "/v1.0/robot/otoMessages/batchRecall", map[string]any{
		"processQueryKeys": keys,
		"robotCode":        robotCode,
	})
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
