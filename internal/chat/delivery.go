package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

const msgSendFailed = "Failed to send message"

// Engine persists outbound messages and fans the stored copy out to the
// right channels. Within one connection sends are handled in arrival
// order; nothing orders sends across connections.
//
// Why persist before emitting?
//   - A message someone saw must be in history. If the insert fails nobody
//     gets the event and the sender gets an error instead.
//
// Why re-read the message after inserting?
//   - Clients render the sender's name and avatar next to the content. The
//     stored copy joined with the sender is the one every recipient sees.
type Engine struct {
	messages repository.MessageRepository
	friends  repository.FriendRepository
	rooms    repository.RoomRepository
	emitter  Emitter
	logger   *zap.Logger

	maxContentLength int
}

func NewEngine(
	messages repository.MessageRepository,
	friends repository.FriendRepository,
	rooms repository.RoomRepository,
	emitter Emitter,
	maxContentLength int,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		messages:         messages,
		friends:          friends,
		rooms:            rooms,
		emitter:          emitter,
		logger:           logger,
		maxContentLength: maxContentLength,
	}
}

func (e *Engine) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("Message content is required")
	}
	if e.maxContentLength > 0 && utf8.RuneCountInString(content) > e.maxContentLength {
		return invalid("Message content is too long")
	}
	return nil
}

// persist stores the message and re-reads it with the sender populated.
func (e *Engine) persist(ctx context.Context, in repository.NewMessage) (*models.MessageView, error) {
	msg, err := e.messages.Create(ctx, in)
	if err != nil {
		return nil, persistence(msgSendFailed, err)
	}
	view, err := e.messages.GetWithSender(ctx, msg.ID)
	if err != nil {
		return nil, persistence(msgSendFailed, err)
	}
	if view == nil {
		return nil, persistence(msgSendFailed, nil)
	}
	return view, nil
}

// SendRoom stores a room message and broadcasts it, with tempId echoed, to
// every connection subscribed to the room channel, the sender's included.
// The sender must be a room member; being subscribed is not required.
//
// Flow:
//  1. Validate content.
//  2. Check membership.
//  3. Persist and re-read with sender.
//  4. Broadcast on the room channel.
func (e *Engine) SendRoom(ctx context.Context, senderID uuid.UUID, in protocol.RoomMessage) (*protocol.DeliveredMessage, error) {
	if err := e.validateContent(in.Content); err != nil {
		return nil, err
	}

	ok, err := e.rooms.IsMember(ctx, in.RoomID, senderID)
	if err != nil {
		return nil, persistence(msgSendFailed, err)
	}
	if !ok {
		return nil, forbidden("You are not a member of this room")
	}

	roomID := in.RoomID
	view, err := e.persist(ctx, repository.NewMessage{SenderID: senderID, RoomID: &roomID, Content: in.Content})
	if err != nil {
		e.logger.Error("room message not persisted",
			zap.Stringer("sender_id", senderID),
			zap.Stringer("room_id", roomID),
			zap.Error(err),
		)
		return nil, err
	}

	delivered := protocol.DeliveredMessage{MessageView: *view, TempID: in.TempID}
	e.emitter.Emit(ctx, protocol.RoomChannel(roomID), protocol.RoomMessageEvent{DeliveredMessage: delivered})
	return &delivered, nil
}

// SendPrivate stores a direct message between friends and emits it to the
// receiver's and the sender's personal channels, so the sender's other
// connections see it too. No message is stored when the two are not
// friends. A failure after persisting is not rolled back.
func (e *Engine) SendPrivate(ctx context.Context, senderID uuid.UUID, in protocol.PrivateMessage) (*protocol.DeliveredMessage, error) {
	if err := e.validateContent(in.Content); err != nil {
		return nil, err
	}

	edge, err := e.friends.FindEdge(ctx, senderID, in.ReceiverID)
	if err != nil {
		return nil, persistence(msgSendFailed, err)
	}
	if edge == nil {
		return nil, forbidden("You are not friends with this user")
	}

	receiverID := in.ReceiverID
	view, err := e.persist(ctx, repository.NewMessage{SenderID: senderID, ReceiverID: &receiverID, Content: in.Content})
	if err != nil {
		e.logger.Error("private message not persisted",
			zap.Stringer("sender_id", senderID),
			zap.Stringer("receiver_id", receiverID),
			zap.Error(err),
		)
		return nil, err
	}

	delivered := protocol.DeliveredMessage{MessageView: *view, TempID: in.TempID}
	event := protocol.PrivateMessageEvent{DeliveredMessage: delivered}
	e.emitter.Emit(ctx, protocol.UserChannel(receiverID), event)
	e.emitter.Emit(ctx, protocol.UserChannel(senderID), event)
	return &delivered, nil
}
