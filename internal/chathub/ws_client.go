package chathub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"mapmo/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// FrameHandler receives every decoded frame read from a connection.
type FrameHandler func(c *WebSocketClient, frame models.ClientFrame)

// WebSocketClient implements Client over a gorilla connection.
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn

	onFrame FrameHandler
	onClose func(c *WebSocketClient)
	logger  *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewWebSocketClient wraps conn. onFrame and onClose may be nil.
func NewWebSocketClient(userID string, conn *websocket.Conn, onFrame FrameHandler, onClose func(*WebSocketClient), logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		UserID:  userID,
		Conn:    conn,
		onFrame: onFrame,
		onClose: onClose,
		logger:  logger,
		send:    make(chan []byte, sendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string { return c.UserID }

func (c *WebSocketClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send queues payload for the write pump. A full buffer marks the client as dead.
func (c *WebSocketClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closed = true
		close(c.send)
		return ErrClientClosed
	}
}

// Close closes the send channel, which makes the write pump send a close frame.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "user_id", c.UserID, "err", err)
			}
			return
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Debug("skipping undecodable frame", "user_id", c.UserID, "err", err)
			continue
		}
		if c.onFrame != nil {
			c.onFrame(c, frame)
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
