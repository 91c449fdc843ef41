package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Subscribed callback topics.
const (
	TopicRobot         = "/v1.0/im/bot/messages/get"
	TopicRobotDelegate = "/v1.0/im/bot/messages/delegate"
	TopicCardCallback  = "/v1.0/card/instances/callback"
)

// Frame types.
const (
	FrameSystem   = "SYSTEM"
	FrameEvent    = "EVENT"
	FrameCallback = "CALLBACK"
)

const (
	streamOpenPath      = "/v1.0/gateway/connections/open"
	streamReadLimit     = 4 << 20
	defaultPingInterval = 8 * time.Second
	defaultPongTimeout  = 5 * time.Second
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// Topics returns the fixed topics plus trimmed, de-duplicated extras.
func Topics(extra []string) []string {
	topics := []string{TopicRobot, TopicRobotDelegate, TopicCardCallback}
	seen := map[string]bool{TopicRobot: true, TopicRobotDelegate: true, TopicCardCallback: true}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	return topics
}

// Frame is one push frame from the stream gateway. Data holds JSON text.
type Frame struct {
	SpecVersion string         `json:"specVersion,omitempty"`
	Type        string         `json:"type"`
	Headers     map[string]any `json:"headers"`
	Data        string         `json:"data"`
}

// Header returns a header value as a string.
func (f *Frame) Header(key string) string { return toStr(f.Headers[key]) }

// Topic returns the frame's topic header.
func (f *Frame) Topic() string { return f.Header("topic") }

// MessageID returns the frame's messageId header.
func (f *Frame) MessageID() string { return f.Header("messageId") }

type ackFrame struct {
	Code    int            `json:"code"`
	Headers map[string]any `json:"headers"`
	Message string         `json:"message"`
	Data    string         `json:"data"`
}

const (
	callbackAckData = `{"response":{"status":"SUCCESS","message":"OK"}}`
	eventAckData    = `{"status":"SUCCESS","message":"OK"}`
)

// StreamState is the connection state of a StreamClient.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateConnected
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StreamStatus is a snapshot of a StreamClient.
type StreamStatus struct {
	State         StreamState
	LastConnectAt time.Time
	LastMessageAt time.Time
	LastError     string
}

// Connected reports whether the socket is up.
func (s StreamStatus) Connected() bool { return s.State == StateConnected }

// FrameHandler processes one acknowledged EVENT or CALLBACK frame. It runs on
// its own goroutine and must not assume ordering relative to other frames.
type FrameHandler func(ctx context.Context, f *Frame)

// StreamOptions configures a StreamClient.
type StreamOptions struct {
	ClientID      string
	ClientSecret  string
	Topics        []string
	BaseURL       string // modern API base, default https://api.dingtalk.com
	KeepAlive     bool
	AutoReconnect bool
	PingInterval  time.Duration // default 8s
	PongTimeout   time.Duration // default 5s
	Logger        *slog.Logger
}

// StreamClient holds the long-lived push connection for one account:
// Disconnected → Connecting → Connected, reconnecting with backoff when
// AutoReconnect is set.
type StreamClient struct {
	opts       StreamOptions
	handler    FrameHandler
	httpClient *http.Client
	instanceID string
	log        *slog.Logger

	state atomic.Int32

	mu            sync.Mutex
	lastConnectAt time.Time
	lastMessageAt time.Time
	lastError     string
}

// NewStreamClient creates a client. handler receives every acknowledged
// EVENT/CALLBACK frame.
func NewStreamClient(opts StreamOptions, handler FrameHandler) *StreamClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOpenAPIBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &StreamClient{
		opts:       opts,
		handler:    handler,
		httpClient: &http.Client{Timeout: openAPITimeout},
		instanceID: uuid.NewString(),
		log:        log,
	}
}

// State returns the current connection state.
func (c *StreamClient) State() StreamState { return StreamState(c.state.Load()) }

// Status returns a snapshot of the connection.
func (c *StreamClient) Status() StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StreamStatus{
		State:         c.State(),
		LastConnectAt: c.lastConnectAt,
		LastMessageAt: c.lastMessageAt,
		LastError:     c.lastError,
	}
}

func (c *StreamClient) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.lastError = ""
		return
	}
	c.lastError = err.Error()
}

// Run connects and serves frames until ctx is cancelled. Without
// AutoReconnect it returns the first session error.
func (c *StreamClient) Run(ctx context.Context) error {
	backoff := reconnectMinBackoff
	for {
		connected, err := c.session(ctx)
		c.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return nil
		}
		c.setError(err)
		if !c.opts.AutoReconnect {
			c.log.Error("stream disconnected", "error", err)
			return err
		}
		if connected {
			backoff = reconnectMinBackoff
		}
		c.log.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMaxBackoff)
	}
}

// session runs one connection. connected reports whether the socket opened.
func (c *StreamClient) session(ctx context.Context) (connected bool, err error) {
	c.state.Store(int32(StateConnecting))

	endpoint, err := c.open(ctx)
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("stream dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	c.state.Store(int32(StateConnected))
	c.mu.Lock()
	c.lastConnectAt = time.Now()
	c.lastError = ""
	c.mu.Unlock()
	c.log.Info("stream connected", "topics", len(c.opts.Topics))

	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if c.opts.KeepAlive {
		go c.keepAlive(sctx, conn, cancel)
	}

	for {
		_, data, err := conn.Read(sctx)
		if err != nil {
			if cause := context.Cause(sctx); cause != nil && ctx.Err() == nil {
				return true, cause
			}
			return true, streamCloseError(err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("stream frame decode failed", "error", err)
			continue
		}
		if err := c.handleFrame(sctx, conn, &f); err != nil {
			conn.Close(websocket.StatusNormalClosure, "disconnect")
			return true, err
		}
	}
}

var errServerDisconnect = errors.New("stream: server requested disconnect")

func (c *StreamClient) handleFrame(ctx context.Context, conn *websocket.Conn, f *Frame) error {
	c.mu.Lock()
	c.lastMessageAt = time.Now()
	c.mu.Unlock()

	switch f.Type {
	case FrameSystem:
		switch f.Topic() {
		case "ping":
			return c.write(ctx, conn, ackFrame{Code: 200, Headers: f.Headers, Message: "OK", Data: f.Data})
		case "disconnect":
			return errServerDisconnect
		default:
			c.log.Debug("stream system frame", "topic", f.Topic())
		}
		return nil

	case FrameEvent, FrameCallback:
		if mid := f.MessageID(); mid != "" {
			data := eventAckData
			if f.Type == FrameCallback {
				data = callbackAckData
			}
			ack := ackFrame{
				Code:    200,
				Headers: map[string]any{"contentType": "application/json", "messageId": mid},
				Message: "OK",
				Data:    data,
			}
			if err := c.write(ctx, conn, ack); err != nil {
				c.log.Warn("stream ack failed", "message_id", mid, "error", err)
			}
		}
		if f.Type == FrameCallback && c.handler != nil {
			// Processing is detached from the read loop and the session.
			go c.handler(context.WithoutCancel(ctx), f)
		}
		return nil
	}

	c.log.Debug("stream frame ignored", "type", f.Type)
	return nil
}

func (c *StreamClient) write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *StreamClient) keepAlive(ctx context.Context, conn *websocket.Conn, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil && ctx.Err() == nil {
				cancel(fmt.Errorf("stream keepalive: no pong within %s", c.opts.PongTimeout))
				return
			}
		}
	}
}

// open registers the subscriptions and returns the ticketed endpoint.
func (c *StreamClient) open(ctx context.Context) (string, error) {
	subs := []map[string]string{{"type": FrameEvent, "topic": "*"}}
	for _, t := range c.opts.Topics {
		subs = append(subs, map[string]string{"type": FrameCallback, "topic": t})
	}
	body, err := json.Marshal(map[string]any{
		"clientId":      c.opts.ClientID,
		"clientSecret":  c.opts.ClientSecret,
		"subscriptions": subs,
		"ua":            "dingbridge/go;instance=" + c.instanceID,
		"localIp":       localIP(),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+streamOpenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("stream open request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Message: "stream open", Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	out, err := decodeVendorResponse(resp, "message", "errmsg")
	if err != nil {
		return "", fmt.Errorf("stream open: %w", err)
	}
	endpoint := pickString(out, "endpoint")
	ticket := pickString(out, "ticket")
	if endpoint == "" || ticket == "" {
		return "", &ProtocolError{Code: "invalid_response", Message: "stream open returned no endpoint/ticket"}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("stream endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func streamCloseError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("stream closed: code=%d reason=%q", ce.Code, ce.Reason)
	}
	return fmt.Errorf("stream read: %w", err)
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return "127.0.0.1"
}
