package dingtalk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const webhookTimeout = 15 * time.Second

// WebhookContext is a resolved webhook destination.
type WebhookContext struct {
	URL    string
	Secret string // optional signing secret
}

// WebhookAt carries structured mentions for text/markdown webhook bodies.
type WebhookAt struct {
	AtUserIDs []string `json:"atUserIds"`
	IsAtAll   bool     `json:"isAtAll"`
}

func (a WebhookAt) empty() bool { return len(nonEmpty(a.AtUserIDs)) == 0 && !a.IsAtAll }

// SignWebhookURL appends timestamp/sign query parameters when secret is set
// and the URL does not already carry either (session webhooks come pre-signed).
// sign = base64(HMAC-SHA256(secret, "<ts_ms>\n<secret>")).
func SignWebhookURL(webhook, secret string, now time.Time) string {
	if secret == "" {
		return webhook
	}
	u, err := url.Parse(webhook)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return webhook
	}
	q := u.Query()
	if q.Has("sign") || q.Has("timestamp") {
		return webhook
	}

	ts := strconv.FormatInt(now.UnixMilli(), 10)
	q.Set("timestamp", ts)
	q.Set("sign", webhookSignature(ts, secret))
	u.RawQuery = q.Encode()
	return u.String()
}

func webhookSignature(ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WebhookClient posts messages to robot webhooks.
type WebhookClient struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookClient creates a webhook client.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: webhookTimeout},
		now:        time.Now,
	}
}

// SendText posts a text message.
func (c *WebhookClient) SendText(ctx context.Context, target WebhookContext, content string, at WebhookAt) (map[string]any, error) {
	body := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	if !at.empty() {
		body["at"] = WebhookAt{AtUserIDs: nonEmpty(at.AtUserIDs), IsAtAll: at.IsAtAll}
	}
	return c.post(ctx, target, body)
}

// SendMarkdown posts a markdown message. Empty titles default to "消息".
func (c *WebhookClient) SendMarkdown(ctx context.Context, target WebhookContext, title, text string, at WebhookAt) (map[string]any, error) {
	if title == "" {
		title = defaultMarkdownTitle
	}
	body := map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"title": title, "text": text},
	}
	if !at.empty() {
		body["at"] = WebhookAt{AtUserIDs: nonEmpty(at.AtUserIDs), IsAtAll: at.IsAtAll}
	}
	return c.post(ctx, target, body)
}

// SendImage posts an inline image (base64 payload plus hex MD5 of the raw bytes).
func (c *WebhookClient) SendImage(ctx context.Context, target WebhookContext, b64, md5hex string) (map[string]any, error) {
	return c.post(ctx, target, map[string]any{
		"msgtype": "image",
		"image":   map[string]string{"base64": b64, "md5": md5hex},
	})
}

func (c *WebhookClient) post(ctx context.Context, target WebhookContext, body any) (map[string]any, error) {
	if strings.TrimSpace(target.URL) == "" {
		return nil, missing("webhook")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}

	endpoint := SignWebhookURL(target.URL, target.Secret, c.now())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL may embed an access token; keep it out of the error.
		if ue, ok := err.(*url.Error); ok {
			err = ue.Err
		}
		return nil, &TransportError{Message: "webhook POST", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Message: "read webhook response", Err: err}
	}
	var out map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		if msg == "" {
			msg = "empty response"
		}
		return out, &TransportError{Status: resp.StatusCode, Message: msg}
	}

	// Webhooks only use the numeric errcode; garbage codes count as success.
	if n, ok := toNumber(firstPresent(out["errcode"], out["errCode"])); ok && n != 0 {
		msg := pickTruthyString(out, "errmsg", "message")
		if msg == "" {
			msg = "unknown error"
		}
		return out, &ProtocolError{Code: toStr(n), Message: msg}
	}
	return out, nil
}
