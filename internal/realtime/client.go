package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echochat/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 256
)

// Client is one websocket connection. A user may have several.
type Client struct {
	id       uuid.UUID
	userID   uuid.UUID
	username string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Guarded by hub.mu.
	channels map[string]struct{}
	closed   bool

	limiter *rate.Limiter
	logger  *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, username string, limiter *rate.Limiter, logger *zap.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:       id,
		userID:   userID,
		username: username,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		channels: make(map[string]struct{}),
		limiter:  limiter,
		logger:   logger.With(zap.Stringer("conn_id", id), zap.Stringer("user_id", userID)),
	}
}

func (c *Client) ID() uuid.UUID     { return c.id }
func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) Subscribe(channel string)   { c.hub.subscribe(c, channel) }
func (c *Client) Unsubscribe(channel string) { c.hub.unsubscribe(c, channel) }

// readPump hands every inbound frame to handle, in arrival order, until
// the connection fails or ctx is done. Frames over the rate limit are
// answered with an error event and not handled.
func (c *Client) readPump(ctx context.Context, maxFrameBytes int64, handle func(context.Context, *Client, []byte)) {
	if maxFrameBytes > 0 {
		c.conn.SetReadLimit(maxFrameBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Debug("rate limit exceeded, frame discarded")
			c.hub.reply(c, protocol.ErrorEvent{Code: "rate_limited", Message: "Too many messages"})
			continue
		}
		handle(ctx, c, raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded read limit")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Warn("unexpected close", zap.Error(err))
	default:
		c.logger.Debug("connection closed", zap.Error(err))
	}
}

// writePump drains the send queue to the socket and pings the peer. It
// returns once the hub closes the queue or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
