package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler the server mounts.
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Friends  *FriendHandler
	Rooms    *RoomHandler
	Messages *MessageHandler
	Presence *PresenceHandler
}

// Register mounts the routes on r. Everything under /v1 except auth and
// health runs behind requireAuth. ws is mounted at /ws when non-nil; it
// authenticates on its own, before upgrading.
func (h Handlers) Register(r gin.IRouter, requireAuth gin.HandlerFunc, ws gin.HandlerFunc) {
	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/v1/auth")
	public.POST("/register", h.Auth.Register)
	public.POST("/login", h.Auth.Login)

	if ws != nil {
		r.GET("/ws", ws)
	}

	v1 := r.Group("/v1")
	v1.Use(requireAuth)

	v1.GET("/users/me", h.Users.GetMe)
	v1.GET("/users/search", h.Users.Search)
	v1.GET("/users/:id", h.Users.GetByID)
	v1.GET("/users/:id/messages", h.Messages.PrivateHistory)

	v1.POST("/friend-requests", h.Friends.SendRequest)
	v1.POST("/friend-requests/:id/respond", h.Friends.Respond)
	v1.GET("/friend-requests/received", h.Friends.Received)
	v1.GET("/friend-requests/sent", h.Friends.Sent)
	v1.GET("/friends", h.Friends.List)

	v1.POST("/rooms", h.Rooms.Create)
	v1.GET("/rooms/public", h.Rooms.ListPublic)
	v1.GET("/rooms/mine", h.Rooms.ListMine)
	v1.GET("/rooms/:id", h.Rooms.Get)
	v1.POST("/rooms/:id/members", h.Rooms.AddMember)
	v1.POST("/rooms/:id/join-requests", h.Rooms.RequestJoin)
	v1.POST("/rooms/:id/join-requests/:requestId/approve", h.Rooms.ApproveJoin)
	v1.POST("/rooms/:id/join-requests/:requestId/reject", h.Rooms.RejectJoin)
	v1.POST("/rooms/:id/leave", h.Rooms.Leave)
	v1.GET("/rooms/:id/messages", h.Messages.RoomHistory)

	v1.POST("/messages/read", h.Messages.MarkRead)
	v1.POST("/messages/:id/recall-or-delete", h.Messages.RecallOrDelete)
	v1.DELETE("/messages/:id", h.Messages.Delete)

	v1.GET("/presence", h.Presence.Online)
	v1.GET("/presence/:userId", h.Presence.Status)
}
