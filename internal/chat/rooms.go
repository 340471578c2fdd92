package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

const minRoomNameLength = 3

// ChannelEvictor drops live subscriptions when membership ends.
type ChannelEvictor interface {
	EvictUser(channel string, userID uuid.UUID)
	CloseChannel(channel string)
}

// CreateRoomInput is what a user submits to open a room.
type CreateRoomInput struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	IsPublic    bool        `json:"isPublic"`
	IsPrivate   bool        `json:"isPrivate"`
	MemberIDs   []uuid.UUID `json:"members"`
}

// Rooms manages room records and membership. The room creator acts as its
// admin.
type Rooms struct {
	rooms      repository.RoomRepository
	users      repository.UserRepository
	evictor    ChannelEvictor
	maxMembers int
	logger     *zap.Logger
}

func NewRooms(rooms repository.RoomRepository, users repository.UserRepository, evictor ChannelEvictor, maxMembers int, logger *zap.Logger) *Rooms {
	return &Rooms{rooms: rooms, users: users, evictor: evictor, maxMembers: maxMembers, logger: logger}
}

// Create de-duplicates members, drops ids that are not users, and always
// includes the creator.
func (s *Rooms) Create(ctx context.Context, creatorID uuid.UUID, in CreateRoomInput) (*models.Room, error) {
	name := strings.TrimSpace(in.Name)
	if !in.IsPrivate && len([]rune(name)) < minRoomNameLength {
		return nil, invalid("Room name must be at least 3 characters")
	}

	seen := map[uuid.UUID]bool{creatorID: true}
	candidates := make([]uuid.UUID, 0, len(in.MemberIDs))
	for _, id := range in.MemberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
	}
	if len(candidates)+1 > s.maxMembers {
		return nil, invalid("Too many members")
	}

	existing, err := s.users.ExistingIDs(ctx, candidates)
	if err != nil {
		return nil, persistence("Failed to create room", err)
	}

	room, err := s.rooms.Create(ctx, &models.Room{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   creatorID,
		IsPublic:    in.IsPublic && !in.IsPrivate,
		IsPrivate:   in.IsPrivate,
		Members:     append([]uuid.UUID{creatorID}, existing...),
	})
	if err != nil {
		return nil, persistence("Failed to create room", err)
	}
	return room, nil
}

func (s *Rooms) load(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, persistence("Failed to load room", err)
	}
	if room == nil {
		return nil, notFound("Room not found")
	}
	return room, nil
}

// Get returns room details to members only.
func (s *Rooms) Get(ctx context.Context, viewerID, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(viewerID) {
		return nil, forbidden("You are not a member of this room")
	}
	if room.CreatedBy != viewerID {
		room.JoinRequests = nil
	}
	return room, nil
}

// AddMember lets the room admin add a user directly. Private rooms are
// closed to new members.
func (s *Rooms) AddMember(ctx context.Context, actorID, roomID, userID uuid.UUID) error {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != actorID {
		return forbidden("Only the room admin can add members")
	}
	if room.IsPrivate {
		return invalid("Cannot add members to a private room")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return persistence("Failed to add member", err)
	}
	if user == nil {
		return notFound("User not found")
	}

	added, err := s.rooms.AddMember(ctx, roomID, userID, s.maxMembers)
	if errors.Is(err, repository.ErrRoomFull) {
		return invalid("Room has reached maximum capacity")
	}
	if err != nil {
		return persistence("Failed to add member", err)
	}
	if !added {
		return conflict("User is already a member")
	}
	return nil
}

// RequestJoin files a join request for a room the user is not in.
func (s *Rooms) RequestJoin(ctx context.Context, userID, roomID uuid.UUID) (*models.JoinRequest, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsPrivate {
		return nil, invalid("Cannot join a private room")
	}
	if room.HasMember(userID) {
		return nil, conflict("You are already a member")
	}

	jr, err := s.rooms.CreateJoinRequest(ctx, roomID, userID)
	if errors.Is(err, repository.ErrConflict) {
		return nil, conflict("Join request already pending")
	}
	if err != nil {
		return nil, persistence("Failed to request to join", err)
	}
	return jr, nil
}

// ResolveJoin approves or rejects a pending request. Admin only.
func (s *Rooms) ResolveJoin(ctx context.Context, actorID, roomID, requestID uuid.UUID, approve bool) (*models.JoinRequest, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CreatedBy != actorID {
		return nil, forbidden("Only the room admin can handle join requests")
	}

	status := models.JoinRequestRejected
	if approve {
		status = models.JoinRequestApproved
	}
	jr, err := s.rooms.ResolveJoinRequest(ctx, roomID, requestID, status, s.maxMembers)
	if errors.Is(err, repository.ErrRoomFull) {
		return nil, invalid("Room has reached maximum capacity")
	}
	if err != nil {
		return nil, persistence("Failed to handle join request", err)
	}
	if jr == nil {
		return nil, notFound("Pending join request not found")
	}
	return jr, nil
}

// Leave removes userID and stops its live room subscriptions. The store
// deletes the room or hands ownership over as needed.
func (s *Rooms) Leave(ctx context.Context, userID, roomID uuid.UUID) (repository.LeaveResult, error) {
	res, err := s.rooms.RemoveMember(ctx, roomID, userID)
	if err != nil {
		return res, persistence("Failed to leave room", err)
	}
	if !res.Left {
		return res, notFound("You are not a member of this room")
	}

	channel := protocol.RoomChannel(roomID)
	if s.evictor != nil {
		if res.RoomDeleted {
			s.evictor.CloseChannel(channel)
		} else {
			s.evictor.EvictUser(channel, userID)
		}
	}
	s.logger.Info("user left room",
		zap.Stringer("user_id", userID),
		zap.Stringer("room_id", roomID),
		zap.Bool("room_deleted", res.RoomDeleted),
	)
	return res, nil
}

func (s *Rooms) ListPublic(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.rooms.ListPublic(ctx)
	if err != nil {
		return nil, persistence("Failed to list rooms", err)
	}
	return rooms, nil
}

func (s *Rooms) ListMine(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	rooms, err := s.rooms.ListForUser(ctx, userID)
	if err != nil {
		return nil, persistence("Failed to list rooms", err)
	}
	return rooms, nil
}
