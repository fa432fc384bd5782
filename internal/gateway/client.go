package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carelinehq/realtime/internal/config"
	"github.com/carelinehq/realtime/internal/protocol"
	"github.com/carelinehq/realtime/pkg/log"
)

// Client is one connected websocket peer on the gateway side.
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	cfg    config.WebSocketConfig
	logger zerolog.Logger

	mu        sync.Mutex
	sessionID string
	messages  int
}

func NewClient(id, userID string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
		cfg:    cfg,
		logger: log.L().With().Str("client_id", id).Logger(),
	}
}

// BindSession records the session this connection serves. One socket, one
// session.
func (c *Client) BindSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// CountMessage increments the per-session user message counter and
// reports whether the quota (when set) is now exceeded.
func (c *Client) CountMessage(max int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages++
	return max > 0 && c.messages > max
}

// SendFrame queues one frame for the write pump. A full send buffer drops
// the frame; a slow consumer must not stall the gateway.
func (c *Client) SendFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Str(log.FieldFrameKind, string(f.FrameKind())).Msg("send buffer full, frame dropped")
	}
	return nil
}

func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}
		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
