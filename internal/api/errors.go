package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/chat"
	"go.uber.org/zap"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind chat.ErrorKind) int {
	switch kind {
	case chat.KindAuthentication:
		return http.StatusUnauthorized
	case chat.KindAuthorization:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": "..."}. Only persistence failures
// are logged; the rest are the caller's mistake.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := chat.KindOf(err)
	if kind == chat.KindPersistence {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(statusFor(kind), gin.H{"error": chat.PublicMessage(err)})
}

// uuidParam parses a path parameter, writing 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
