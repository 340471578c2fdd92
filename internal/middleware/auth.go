package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/auth"
)

// Context keys for storing the authenticated identity in gin.Context.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUsername = "username"
)

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller identity for handlers further down the chain.
//
// Flow:
//  1. Extract the token (Authorization header, then ?token=).
//  2. Verify signature and expiry.
//  3. Store user id and username with c.Set.
func AuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := authenticator.AuthenticateRequest(c.Request)
		if err != nil {
			msg := "invalid or expired token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "missing authorization header"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextKeyUserID, ident.UserID)
		c.Set(ContextKeyUsername, ident.Username)

		c.Next()
	}
}

// GetUserID returns uuid.Nil when the middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}

// GetIdentity bundles GetUserID and GetUsername.
func GetIdentity(c *gin.Context) auth.Identity {
	return auth.Identity{UserID: GetUserID(c), Username: GetUsername(c)}
}
