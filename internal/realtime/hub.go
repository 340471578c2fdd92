// Package realtime carries protocol frames between websocket connections
// and the chat services. Connections subscribe to named channels; an event
// emitted on a channel reaches every subscribed connection, on this
// process or, with a Broker, on every process.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/protocol"
	"go.uber.org/zap"
)

// Broker fans payloads out across processes. Publish sends to every
// process, this one included. Subscribe calls ready once the subscription
// is confirmed and then delivers what arrives until ctx is done.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, ready func(), deliver func(channel string, payload []byte)) error
}

// Hub tracks live clients and their channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}

	broker Broker

	// subscribed is true while the broker subscription is confirmed. Until
	// then emitted frames are also delivered locally.
	subscribed atomic.Bool
	logger     *zap.Logger
}

// NewHub returns a hub. broker may be nil for a single process.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		broker:   broker,
		logger:   logger,
	}
}

// Run delivers broker traffic to local clients until ctx is done. An error
// means this process no longer hears the broker; callers treat it as fatal.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	defer h.subscribed.Store(false)
	return h.broker.Subscribe(ctx, func() { h.subscribed.Store(true) }, h.deliver)
}

// Subscribed reports whether broker traffic reaches this process. Without
// a broker it is always true.
func (h *Hub) Subscribed() bool {
	return h.broker == nil || h.subscribed.Load()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister drops c from every channel and closes its send queue, which
// stops its write pump. Calling it twice is safe.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for channel := range c.channels {
		h.removeLocked(c, channel)
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, channel)
}

func (h *Hub) removeLocked(c *Client, channel string) {
	delete(c.channels, channel)
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// EvictUser unsubscribes every connection of userID from channel.
func (h *Hub) EvictUser(channel string, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.channels[channel] {
		if c.userID == userID {
			h.removeLocked(c, channel)
		}
	}
}

// CloseChannel unsubscribes everyone from channel.
func (h *Hub) CloseChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.channels[channel] {
		h.removeLocked(c, channel)
	}
}

// Subscribers returns how many local connections listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Emit encodes ev and delivers it to channel. With a broker the payload
// goes through it so other processes see it too. Local subscribers are
// served directly when publishing fails or the subscription is not
// confirmed, since the broker would not bring the frame back.
func (h *Hub) Emit(ctx context.Context, channel string, ev protocol.Outbound) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return
	}
	if h.broker != nil {
		viaBroker := h.subscribed.Load()
		err := h.broker.Publish(ctx, channel, payload)
		if err == nil && viaBroker {
			return
		}
		if err != nil {
			h.logger.Warn("broker publish failed, delivering locally",
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
	}
	h.deliver(channel, payload)
}

// Broadcast sends ev to every local connection.
func (h *Hub) Broadcast(ev protocol.Outbound) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.sendLocked(c, payload)
	}
}

func (h *Hub) deliver(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		h.sendLocked(c, payload)
	}
}

// reply sends ev to c alone.
func (h *Hub) reply(c *Client, ev protocol.Outbound) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Error("encode reply", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sendLocked(c, payload)
}

// sendLocked queues payload without blocking. A full queue drops the
// frame. The caller holds h.mu.
func (h *Hub) sendLocked(c *Client, payload []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		h.logger.Warn("send queue full, dropping frame",
			zap.Stringer("conn_id", c.id),
			zap.Stringer("user_id", c.userID),
		)
		return false
	}
}

// Shutdown closes every live connection. Their read loops then fail and
// clean up as on any disconnect.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// Connections returns the number of live local connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
