package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

// Subscription is one authenticated realtime connection.
type Subscription interface {
	UserID() uuid.UUID
	Subscribe(channel string)
	Unsubscribe(channel string)
}

// Gatekeeper decides who may listen to and post in a room.
type Gatekeeper struct {
	rooms  repository.RoomRepository
	logger *zap.Logger
}

func NewGatekeeper(rooms repository.RoomRepository, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{rooms: rooms, logger: logger}
}

// Authorize returns nil when userID is a member of roomID.
func (g *Gatekeeper) Authorize(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := g.rooms.GetByID(ctx, roomID)
	if err != nil {
		return persistence("Failed to load room", err)
	}
	if room == nil {
		return notFound("Room not found")
	}
	if !room.HasMember(userID) {
		return forbidden("You are not a member of this room")
	}
	return nil
}

// JoinRoomChannel subscribes sub to the room's broadcast channel once
// membership checks out. Refusals are logged and returned.
func (g *Gatekeeper) JoinRoomChannel(ctx context.Context, sub Subscription, roomID uuid.UUID) error {
	if err := g.Authorize(ctx, roomID, sub.UserID()); err != nil {
		g.logger.Info("room join refused",
			zap.Stringer("user_id", sub.UserID()),
			zap.Stringer("room_id", roomID),
			zap.Error(err),
		)
		return err
	}
	sub.Subscribe(protocol.RoomChannel(roomID))
	return nil
}

// LeaveRoomChannel stops delivery of the room's broadcasts to sub. It does
// not touch membership.
func (g *Gatekeeper) LeaveRoomChannel(sub Subscription, roomID uuid.UUID) {
	sub.Unsubscribe(protocol.RoomChannel(roomID))
}
