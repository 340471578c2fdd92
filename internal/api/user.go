package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echochat/internal/middleware"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

// UserHandler handles user-related operations.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// Search results are capped; clients narrow the query instead of paging.
const (
	minSearchQuery = 2
	maxSearchHits  = 20
)

// GetMe handles GET /v1/users/me
//
// Returns the currently authenticated user's profile.
//
// Why /users/me and not /users/:id?
//   - The client does not need its own id to fetch itself; the token
//     already names it.
//   - /users/:id serves other people's profiles, see GetByID.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// A valid token for a deleted account.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Search handles GET /v1/users/search?query=
//
// Matches the query against usernames and emails, ignoring case. This is
// how a client finds the ids that friend requests and room creation take.
//
// Why an empty list for short queries instead of 400?
//   - Clients search as the user types. One character would match most of
//     the table, and an error for it would just be noise in the UI.
func (h *UserHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if len([]rune(query)) < minSearchQuery {
		c.JSON(http.StatusOK, []any{})
		return
	}

	users, err := h.repo.Search(c.Request.Context(), query, maxSearchHits)
	if err != nil {
		h.logger.Error("failed to search users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	c.JSON(http.StatusOK, users)
}

// GetByID handles GET /v1/users/:id
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
