package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/middleware"
	"go.uber.org/zap"
)

// RoomHandler serves room records and membership. Every rule lives in
// chat.Rooms; handlers only bind and translate.
type RoomHandler struct {
	svc    *chat.Rooms
	logger *zap.Logger
}

func NewRoomHandler(svc *chat.Rooms, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{svc: svc, logger: logger}
}

// Create handles POST /v1/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	var req chat.CreateRoomInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.svc.Create(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListPublic handles GET /v1/rooms/public
func (h *RoomHandler) ListPublic(c *gin.Context) {
	rooms, err := h.svc.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// ListMine handles GET /v1/rooms/mine
func (h *RoomHandler) ListMine(c *gin.Context) {
	rooms, err := h.svc.ListMine(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// Get handles GET /v1/rooms/:id
func (h *RoomHandler) Get(c *gin.Context) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	room, err := h.svc.Get(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
}

// AddMember handles POST /v1/rooms/:id/members
func (h *RoomHandler) AddMember(c *gin.Context) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.AddMember(c.Request.Context(), middleware.GetUserID(c), roomID, req.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestJoin handles POST /v1/rooms/:id/join-requests
func (h *RoomHandler) RequestJoin(c *gin.Context) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	jr, err := h.svc.RequestJoin(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, jr)
}

// ApproveJoin handles POST /v1/rooms/:id/join-requests/:requestId/approve
func (h *RoomHandler) ApproveJoin(c *gin.Context) { h.resolveJoin(c, true) }

// RejectJoin handles POST /v1/rooms/:id/join-requests/:requestId/reject
func (h *RoomHandler) RejectJoin(c *gin.Context) { h.resolveJoin(c, false) }

func (h *RoomHandler) resolveJoin(c *gin.Context, approve bool) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	requestID, ok := uuidParam(c, "requestId")
	if !ok {
		return
	}
	jr, err := h.svc.ResolveJoin(c.Request.Context(), middleware.GetUserID(c), roomID, requestID, approve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, jr)
}

// Leave handles POST /v1/rooms/:id/leave
func (h *RoomHandler) Leave(c *gin.Context) {
	roomID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Leave(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	body := gin.H{"roomDeleted": res.RoomDeleted}
	if res.NewOwner != uuid.Nil {
		body["newOwner"] = res.NewOwner
	}
	c.JSON(http.StatusOK, body)
}
