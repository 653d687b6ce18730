package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

// Inbound command types.
const (
	CommandSubmit  = "submit"
	CommandRestart = "restart"
)

// Outbound frame types.
const (
	FrameSessionUpdate  = "session.update"
	FrameSessionError   = "session.error"
	FrameServerShutdown = "server.shutdown"
)

type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Frame struct {
	Type    string                  `json:"type"`
	Kind    usecase.UpdateKind      `json:"kind,omitempty"`
	Session *domain.SessionSnapshot `json:"session,omitempty"`
	Message string                  `json:"message,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 1024
)

// Client is one UI connection. It owns the conversation session driven
// by the commands it receives.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	incomingPing chan string
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
	teardown     sync.Once

	session *usecase.Session
}

// NewClient creates a new WebSocket client
func NewClient(ctx context.Context, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		incomingPing: make(chan string, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Attach binds the session the client's commands drive. Call it before Run.
func (c *Client) Attach(s *usecase.Session) {
	c.session = s
}

func (c *Client) Run() {
	c.setupHandlers()

	go c.Ping()
	go c.readPump()
	go c.writePump()
}

// setupHandlers configures all WebSocket message handlers
func (c *Client) setupHandlers() {
	c.conn.SetCloseHandler(func(code int, text string) error {
		log.WithCtx(c.ctx).Debug("WebSocket connection closed", zap.Int("code", code), zap.String("text", text))
		c.Close()
		return nil
	})

	c.conn.SetPingHandler(func(appData string) error {
		select {
		case c.incomingPing <- appData:
		default:
		}
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// Close closes the connection at once. Queued frames are dropped.
func (c *Client) Close() {
	c.closeSend()
	c.teardown.Do(func() {
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Drain stops accepting frames and closes the connection once the queued
// ones are written.
func (c *Client) Drain() {
	c.closeSend()
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Context returns the client's context
func (c *Client) Context() context.Context {
	return c.ctx
}

// Ping keeps the connection alive. A ping from the peer postpones ours.
func (c *Client) Ping() {
	for {
		select {
		case <-c.incomingPing:
		case <-time.After(pingPeriod):
			if c.IsClosed() {
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.WithCtx(c.ctx).Debug("Failed to send ping", zap.Error(err))
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump handles incoming commands
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithCtx(c.ctx).Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleCommand(message)
	}
}

func (c *Client) handleCommand(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendFrame(Frame{Type: FrameSessionError, Message: "malformed command"})
		return
	}

	var err error
	switch cmd.Type {
	case CommandSubmit:
		err = c.session.Submit(c.ctx, cmd.Text)
	case CommandRestart:
		err = c.session.Restart()
	default:
		c.sendFrame(Frame{Type: FrameSessionError, Message: "unknown command: " + cmd.Type})
		return
	}
	if err != nil {
		log.WithCtx(c.ctx).Debug("command rejected", zap.String("command", cmd.Type), zap.Error(err))
		c.sendFrame(Frame{Type: FrameSessionError, Message: err.Error()})
	}
}

// observe forwards session updates. It runs under the session lock, so it
// only queues the frame.
func (c *Client) observe(u usecase.Update) {
	snap := u.Snapshot
	c.sendFrame(Frame{Type: FrameSessionUpdate, Kind: u.Kind, Session: &snap})
}

func (c *Client) sendFrame(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.WithCtx(c.ctx).Error("Failed to marshal frame", zap.Error(err))
		return
	}
	_ = c.SendMessage(payload)
}

// writePump handles outgoing WebSocket messages
func (c *Client) writePump() {
	defer c.Close()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithCtx(c.ctx).Debug("Failed to write message", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// SendMessage queues a message for the client. A client that cannot keep
// up is disconnected.
func (c *Client) SendMessage(message []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- message:
		c.mu.RUnlock()
		return nil
	default:
		c.mu.RUnlock()
		log.WithCtx(c.ctx).Warn("Send buffer full, closing client")
		c.Close()
		return websocket.ErrCloseSent
	}
}
