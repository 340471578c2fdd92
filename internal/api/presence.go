package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/presence"
	"go.uber.org/zap"
)

// StatusReader looks a user up in the shared presence mirror.
type StatusReader interface {
	Status(ctx context.Context, userID uuid.UUID) (presence.Status, error)
}

// PresenceHandler reports who is online.
type PresenceHandler struct {
	registry *presence.Registry
	mirror   StatusReader
	logger   *zap.Logger
}

// NewPresenceHandler takes an optional mirror. Without one, status
// reflects this process only and last-seen is unknown.
func NewPresenceHandler(registry *presence.Registry, mirror StatusReader, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{registry: registry, mirror: mirror, logger: logger}
}

// Online handles GET /v1/presence
func (h *PresenceHandler) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.registry.Snapshot()})
}

// Status handles GET /v1/presence/:userId
func (h *PresenceHandler) Status(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	local := h.registry.IsOnline(userID)
	if h.mirror == nil {
		c.JSON(http.StatusOK, presence.Status{UserID: userID, Online: local})
		return
	}

	st, err := h.mirror.Status(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("presence mirror unavailable", zap.Error(err))
		c.JSON(http.StatusOK, presence.Status{UserID: userID, Online: local})
		return
	}
	st.Online = st.Online || local
	c.JSON(http.StatusOK, st)
}
