package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/XuF163/dingbridge/pkg/protocol"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxClientMessage = 64 << 10
)

// Client is one /ws subscriber. Frames are queued and written by a single
// goroutine; a client that cannot keep up loses frames instead of stalling
// the bus.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, clientSendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// SendEvent queues an event frame. Drops when the buffer is full.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("gateway: marshal event failed", "event", event.Name, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("gateway: client buffer full, dropping event", "id", c.id, "event", event.Name)
	}
}

// Run pumps frames until the peer disconnects or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.SendEvent(*protocol.NewEvent(protocol.EventConnected, map[string]any{"id": c.id}))

	go c.writePump(ctx)
	c.readPump()
}

// readPump discards client input; it exists to process control frames and
// notice disconnects.
func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway: client read error", "id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeWait))
			c.Close()
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close closes the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
