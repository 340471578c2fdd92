package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echochat/internal/auth"
	"github.com/lalith-99/echochat/internal/presence"
	"github.com/lalith-99/echochat/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tune the websocket endpoint.
type Options struct {
	// AllowedOrigins lists scheme://host pairs. "*" allows any origin.
	// Requests without an Origin header are not from a browser and pass.
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	MaxFrameBytes  int64
}

// Server upgrades authenticated requests and runs their connections.
type Server struct {
	hub        *Hub
	presence   *presence.Registry
	authn      *auth.Authenticator
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	logger     *zap.Logger
}

func NewServer(hub *Hub, registry *presence.Registry, authn *auth.Authenticator, dispatcher *Dispatcher, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		hub:        hub,
		presence:   registry,
		authn:      authn,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
	allowed, allowAll := normalizeOrigins(opts.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			norm, ok := normalizeOrigin(origin)
			return ok && allowed[norm]
		},
	}
	return s
}

func normalizeOrigins(origins []string) (map[string]bool, bool) {
	out := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if norm, ok := normalizeOrigin(o); ok {
			out[norm] = true
		}
	}
	return out, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// ServeWS authenticates, upgrades and then serves the connection until it
// closes.
//
// Flow:
//  1. Verify the token (header or ?token=); refuse with 401 before upgrading.
//  2. Upgrade, register the client and subscribe it to its personal channel.
//  3. Mark the connection online and broadcast the online list.
//  4. Read frames until the connection drops, then undo 2 and 3.
func (s *Server) ServeWS(c *gin.Context) {
	ident, err := s.authn.AuthenticateRequest(c.Request)
	if err != nil {
		s.logger.Info("websocket auth refused", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), max(s.opts.RateBurst, 1))
	}
	client := newClient(s.hub, conn, ident.UserID, ident.Username, limiter, s.logger)

	// The connection outlives the request context handling.
	ctx := context.WithoutCancel(c.Request.Context())

	s.hub.register(client)
	client.Subscribe(protocol.UserChannel(ident.UserID))
	s.presence.Connect(ctx, ident.UserID, client.id, s.broadcastOnline)
	client.logger.Info("websocket connected")

	go client.writePump()
	client.readPump(ctx, s.opts.MaxFrameBytes, s.dispatcher.Handle)

	s.hub.unregister(client)
	s.presence.Disconnect(ctx, client.id, s.broadcastOnline)
	client.logger.Info("websocket disconnected")
}

// broadcastOnline runs under the presence lock, so frames are queued in the
// order the online set changed.
func (s *Server) broadcastOnline(online []uuid.UUID) {
	s.hub.Broadcast(protocol.OnlineUsers{Users: online})
}
