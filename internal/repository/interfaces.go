package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
)

// Every method takes ctx first and returns (nil, nil) when a single
// looked-up row does not exist. Mutations of shared rows are atomic in the
// store itself; callers never load, mutate and save.

var (
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrRoomFull is returned when adding a member would pass the cap.
	ErrRoomFull = errors.New("room is full")
)

// UserRepository handles user accounts.
type UserRepository interface {
	// Create returns ErrConflict when the username or email is taken.
	Create(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// ExistingIDs returns the subset of ids that belong to real users.
	ExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// Search returns up to limit users whose username or email contains
	// query, ignoring case, ordered by username.
	Search(ctx context.Context, query string, limit int) ([]models.User, error)
}

// FriendRepository reads friend edges. Edges are only written by
// FriendRequestRepository.Accept.
type FriendRepository interface {
	// FindEdge looks the pair up in either orientation.
	FindEdge(ctx context.Context, a, b uuid.UUID) (*models.Friend, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error)
}

// FriendRequestRepository handles the request lifecycle.
type FriendRequestRepository interface {
	// Create returns ErrConflict when (from, to) already has a request.
	Create(ctx context.Context, fromID, toID uuid.UUID) (*models.FriendRequest, error)
	GetByID(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error)
	// Resolve moves a pending request to status. Returns nil, nil when the
	// request is missing or no longer pending.
	Resolve(ctx context.Context, requestID uuid.UUID, status models.FriendRequestStatus) (*models.FriendRequest, error)
	// Accept resolves the request as accepted and creates the canonical
	// Friend edge in the same transaction.
	Accept(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error)
	ListPending(ctx context.Context, userID uuid.UUID, incoming bool) ([]models.FriendRequest, error)
}

// LeaveResult describes what happened to a room when a member left.
type LeaveResult struct {
	Left        bool
	RoomDeleted bool
	NewOwner    uuid.UUID
}

// RoomRepository handles rooms, their members and join requests.
type RoomRepository interface {
	// Create inserts the room and its initial members together.
	Create(ctx context.Context, room *models.Room) (*models.Room, error)
	// GetByID returns the room with members and join requests loaded.
	GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	// AddMember returns false when userID already is a member, and
	// ErrRoomFull when the room already holds maxMembers.
	AddMember(ctx context.Context, roomID, userID uuid.UUID, maxMembers int) (bool, error)
	// RemoveMember drops userID. A private room, or a room left empty, is
	// deleted. When the owner leaves, ownership moves to a remaining member.
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) (LeaveResult, error)
	// CreateJoinRequest returns ErrConflict when userID already has one.
	CreateJoinRequest(ctx context.Context, roomID, userID uuid.UUID) (*models.JoinRequest, error)
	// ResolveJoinRequest moves a pending request to status. Approval adds
	// the member in the same transaction, subject to maxMembers.
	// Returns nil, nil when the request is missing or not pending.
	ResolveJoinRequest(ctx context.Context, roomID, requestID uuid.UUID, status models.JoinRequestStatus, maxMembers int) (*models.JoinRequest, error)
	ListPublic(ctx context.Context) ([]models.Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
}

// NewMessage is the input to MessageRepository.Create.
type NewMessage struct {
	SenderID   uuid.UUID
	ReceiverID *uuid.UUID
	RoomID     *uuid.UUID
	Content    string
}

// MessageRepository handles message persistence and post-send mutations.
type MessageRepository interface {
	Create(ctx context.Context, msg NewMessage) (*models.Message, error)
	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	// GetWithSender returns the message with its sender populated.
	GetWithSender(ctx context.Context, messageID uuid.UUID) (*models.MessageView, error)
	// MarkRead adds readerID to read_by of each listed message that does not
	// contain it yet, and returns only those messages.
	MarkRead(ctx context.Context, messageIDs []uuid.UUID, readerID uuid.UUID) ([]models.Message, error)
	// Recall sets recalled only while nobody but the sender has read the
	// message and it is not recalled yet. Reports whether it changed.
	Recall(ctx context.Context, messageID uuid.UUID) (bool, error)
	// AddDeletedBy adds userID to deleted_by. Reports whether it changed.
	AddDeletedBy(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	// DeleteBySender physically removes the message if senderID sent it.
	DeleteBySender(ctx context.Context, messageID, senderID uuid.UUID) (bool, error)
	// ListRoom and ListPrivate return history newest first, omitting
	// messages viewerID deleted for themselves. before zero means latest.
	ListRoom(ctx context.Context, roomID, viewerID uuid.UUID, before uuid.UUID, limit int) ([]models.MessageView, error)
	ListPrivate(ctx context.Context, a, b, viewerID uuid.UUID, before uuid.UUID, limit int) ([]models.MessageView, error)
}

// Stores groups one implementation of every repository.
type Stores struct {
	Users          UserRepository
	Friends        FriendRepository
	FriendRequests FriendRequestRepository
	Rooms          RoomRepository
	Messages       MessageRepository
}
