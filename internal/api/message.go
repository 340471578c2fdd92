package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/middleware"
	"go.uber.org/zap"
)

// MessageHandler serves history and the lifecycle operations that are
// also reachable over the websocket.
type MessageHandler struct {
	history   *chat.History
	lifecycle *chat.Manager
	logger    *zap.Logger
}

func NewMessageHandler(history *chat.History, lifecycle *chat.Manager, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{history: history, lifecycle: lifecycle, logger: logger}
}

// page reads ?before=<message id>&limit=<n>. An empty before means latest;
// limit defaults and caps are applied by chat.History.
func page(c *gin.Context) (uuid.UUID, int, bool) {
	var before uuid.UUID
	if b := c.Query("before"); b != "" {
		id, err := uuid.Parse(b)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return uuid.Nil, 0, false
		}
		before = id
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return uuid.Nil, 0, false
		}
		limit = n
	}
	return before, limit, true
}

// RoomHistory handles GET /v1/rooms/:id/messages?before=<id>&limit=50
func (h *MessageHandler) RoomHistory(c *gin.Context) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	before, limit, ok := page(c)
	if !ok {
		return
	}
	msgs, err := h.history.Room(c.Request.Context(), middleware.GetUserID(c), roomID, before, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PrivateHistory handles GET /v1/users/:id/messages?before=<id>&limit=50
func (h *MessageHandler) PrivateHistory(c *gin.Context) {
	otherID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	before, limit, ok := page(c)
	if !ok {
		return
	}
	msgs, err := h.history.Private(c.Request.Context(), middleware.GetUserID(c), otherID, before, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type markReadRequest struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

// MarkRead handles POST /v1/messages/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids, err := h.lifecycle.MarkRead(c.Request.Context(), middleware.GetUserID(c), req.MessageIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": ids})
}

// RecallOrDelete handles POST /v1/messages/:id/recall-or-delete
func (h *MessageHandler) RecallOrDelete(c *gin.Context) {
	messageID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.lifecycle.RecallOrDelete(c.Request.Context(), middleware.GetUserID(c), messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Delete handles DELETE /v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.lifecycle.DeleteOwn(c.Request.Context(), middleware.GetUserID(c), messageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
