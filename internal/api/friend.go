package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/middleware"
	"go.uber.org/zap"
)

// FriendHandler exposes the friend request workflow.
type FriendHandler struct {
	svc    *chat.Friends
	logger *zap.Logger
}

func NewFriendHandler(svc *chat.Friends, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{svc: svc, logger: logger}
}

type friendRequestBody struct {
	ToUserID uuid.UUID `json:"toUserId" binding:"required"`
}

type respondBody struct {
	Action chat.FriendAction `json:"action" binding:"required,oneof=accept reject cancel"`
}

// SendRequest handles POST /v1/friend-requests
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fr, err := h.svc.SendRequest(c.Request.Context(), middleware.GetUserID(c), req.ToUserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, fr)
}

// Respond handles POST /v1/friend-requests/:id/respond
func (h *FriendHandler) Respond(c *gin.Context) {
	requestID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req respondBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fr, err := h.svc.Respond(c.Request.Context(), middleware.GetUserID(c), requestID, req.Action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

// Received handles GET /v1/friend-requests/received
func (h *FriendHandler) Received(c *gin.Context) { h.pending(c, true) }

// Sent handles GET /v1/friend-requests/sent
func (h *FriendHandler) Sent(c *gin.Context) { h.pending(c, false) }

func (h *FriendHandler) pending(c *gin.Context, incoming bool) {
	reqs, err := h.svc.Pending(c.Request.Context(), middleware.GetUserID(c), incoming)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// List handles GET /v1/friends
func (h *FriendHandler) List(c *gin.Context) {
	users, err := h.svc.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}
