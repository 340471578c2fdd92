package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

// FriendAction is a response to a pending friend request.
type FriendAction string

const (
	FriendActionAccept FriendAction = "accept"
	FriendActionReject FriendAction = "reject"
	FriendActionCancel FriendAction = "cancel"
)

// Friends runs the friend request workflow. Accepting is the only way a
// Friend edge comes into existence.
type Friends struct {
	users    repository.UserRepository
	friends  repository.FriendRepository
	requests repository.FriendRequestRepository
	emitter  Emitter
	logger   *zap.Logger
}

func NewFriends(
	users repository.UserRepository,
	friends repository.FriendRepository,
	requests repository.FriendRequestRepository,
	emitter Emitter,
	logger *zap.Logger,
) *Friends {
	return &Friends{users: users, friends: friends, requests: requests, emitter: emitter, logger: logger}
}

// SendRequest creates a pending request and notifies the recipient.
func (f *Friends) SendRequest(ctx context.Context, fromID, toID uuid.UUID) (*models.FriendRequest, error) {
	if fromID == toID {
		return nil, invalid("You cannot add yourself")
	}

	from, err := f.users.GetByID(ctx, fromID)
	if err != nil {
		return nil, persistence("Failed to send friend request", err)
	}
	to, err := f.users.GetByID(ctx, toID)
	if err != nil {
		return nil, persistence("Failed to send friend request", err)
	}
	if from == nil || to == nil {
		return nil, notFound("User not found")
	}

	edge, err := f.friends.FindEdge(ctx, fromID, toID)
	if err != nil {
		return nil, persistence("Failed to send friend request", err)
	}
	if edge != nil {
		return nil, conflict("You are already friends")
	}

	fr, err := f.requests.Create(ctx, fromID, toID)
	if errors.Is(err, repository.ErrConflict) {
		return nil, conflict("Friend request already sent")
	}
	if err != nil {
		return nil, persistence("Failed to send friend request", err)
	}

	f.emitter.Emit(ctx, protocol.UserChannel(toID), protocol.FriendRequestReceived{
		RequestID:    fr.ID,
		FromID:       fromID,
		FromUsername: from.Username,
	})
	return fr, nil
}

// Respond applies action to a pending request. The recipient may accept or
// reject; the sender may cancel.
func (f *Friends) Respond(ctx context.Context, actorID, requestID uuid.UUID, action FriendAction) (*models.FriendRequest, error) {
	fr, err := f.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, persistence("Failed to respond to friend request", err)
	}
	if fr == nil {
		return nil, notFound("Friend request not found")
	}

	var status models.FriendRequestStatus
	switch action {
	case FriendActionAccept, FriendActionReject:
		if fr.ToID != actorID {
			return nil, forbidden("Only the recipient can respond to this request")
		}
		status = models.FriendRequestRejected
		if action == FriendActionAccept {
			status = models.FriendRequestAccepted
		}
	case FriendActionCancel:
		if fr.FromID != actorID {
			return nil, forbidden("Only the sender can cancel this request")
		}
		status = models.FriendRequestCancelled
	default:
		return nil, invalid("Invalid action")
	}

	var updated *models.FriendRequest
	if status == models.FriendRequestAccepted {
		updated, err = f.requests.Accept(ctx, requestID)
	} else {
		updated, err = f.requests.Resolve(ctx, requestID, status)
	}
	if err != nil {
		return nil, persistence("Failed to respond to friend request", err)
	}
	if updated == nil {
		return nil, conflict("Friend request is no longer pending")
	}

	if status == models.FriendRequestAccepted {
		f.emitter.Emit(ctx, protocol.UserChannel(updated.FromID), protocol.FriendRequestAccepted{RequestID: updated.ID, FriendID: updated.ToID})
		f.emitter.Emit(ctx, protocol.UserChannel(updated.ToID), protocol.FriendRequestAccepted{RequestID: updated.ID, FriendID: updated.FromID})
	}
	return updated, nil
}

func (f *Friends) List(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
	users, err := f.friends.ListFriends(ctx, userID)
	if err != nil {
		return nil, persistence("Failed to list friends", err)
	}
	return users, nil
}

// Pending lists requests addressed to userID when incoming, else sent by it.
func (f *Friends) Pending(ctx context.Context, userID uuid.UUID, incoming bool) ([]models.FriendRequest, error) {
	reqs, err := f.requests.ListPending(ctx, userID, incoming)
	if err != nil {
		return nil, persistence("Failed to list friend requests", err)
	}
	return reqs, nil
}
