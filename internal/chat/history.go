package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/repository"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// History serves stored conversations to the people allowed to read them.
// Recalled content is replaced and per-user deletes are applied.
type History struct {
	messages repository.MessageRepository
	friends  repository.FriendRepository
	gate     *Gatekeeper
}

func NewHistory(messages repository.MessageRepository, friends repository.FriendRepository, gate *Gatekeeper) *History {
	return &History{messages: messages, friends: friends, gate: gate}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (h *History) Room(ctx context.Context, viewerID, roomID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	if err := h.gate.Authorize(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := h.messages.ListRoom(ctx, roomID, viewerID, before, clampLimit(limit))
	if err != nil {
		return nil, persistence("Failed to load messages", err)
	}
	return msgs, nil
}

func (h *History) Private(ctx context.Context, viewerID, otherID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	edge, err := h.friends.FindEdge(ctx, viewerID, otherID)
	if err != nil {
		return nil, persistence("Failed to load messages", err)
	}
	if edge == nil {
		return nil, forbidden("You are not friends with this user")
	}
	msgs, err := h.messages.ListPrivate(ctx, viewerID, otherID, viewerID, before, clampLimit(limit))
	if err != nil {
		return nil, persistence("Failed to load messages", err)
	}
	return msgs, nil
}
