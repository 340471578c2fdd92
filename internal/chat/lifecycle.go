package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"go.uber.org/zap"
)

// MaxMarkReadBatch caps the ids accepted by one MarkRead call.
const MaxMarkReadBatch = 500

// LifecycleOptions toggle the rules that are a product decision.
type LifecycleOptions struct {
	// SenderOnlyRecall limits recall to the message's sender. Anyone else
	// calling RecallOrDelete gets the per-user delete.
	SenderOnlyRecall bool
	// RoomReadReceipts sends messageRead for room messages as well as
	// private ones.
	RoomReadReceipts bool
}

// Outcome is what RecallOrDelete ended up doing.
type Outcome string

const (
	OutcomeRecalled       Outcome = "recalled"
	OutcomeDeletedForUser Outcome = "deleted_for_user"
)

type RecallResult struct {
	MessageID uuid.UUID `json:"messageId"`
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
}

// Manager applies read receipts, recall and deletes to stored messages.
// Every mutation is a single conditional update in the store.
//
// Why one RecallOrDelete instead of separate recall and delete calls?
//   - Whether a recall is still allowed depends on who has read the
//     message, which can change between the client's click and the server.
//     The server decides, and the result says which one happened.
//
// Why check ReadBy again inside the store?
//   - The message was loaded before the update. Recall only applies while
//     the condition still holds in the row; losing that race falls back to
//     deleting for the caller.
type Manager struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	emitter  Emitter
	opts     LifecycleOptions
	logger   *zap.Logger
}

func NewManager(
	messages repository.MessageRepository,
	rooms repository.RoomRepository,
	emitter Emitter,
	opts LifecycleOptions,
	logger *zap.Logger,
) *Manager {
	return &Manager{messages: messages, rooms: rooms, emitter: emitter, opts: opts, logger: logger}
}

// participant reports whether userID can see msg at all.
func (m *Manager) participant(ctx context.Context, msg *models.Message, userID uuid.UUID, roomCache map[uuid.UUID]bool) (bool, error) {
	if msg.SenderID == userID {
		return true, nil
	}
	if msg.ReceiverID != nil {
		return *msg.ReceiverID == userID, nil
	}
	if msg.RoomID == nil {
		return false, nil
	}
	if ok, cached := roomCache[*msg.RoomID]; cached {
		return ok, nil
	}
	ok, err := m.rooms.IsMember(ctx, *msg.RoomID, userID)
	if err != nil {
		return false, err
	}
	if roomCache != nil {
		roomCache[*msg.RoomID] = ok
	}
	return ok, nil
}

// MarkRead adds readerID to readBy of every listed message the reader can
// see and has not read yet, then notifies each sender whose private message
// was newly read. It returns the ids that were newly marked.
func (m *Manager) MarkRead(ctx context.Context, readerID uuid.UUID, messageIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(messageIDs) == 0 {
		return nil, invalid("messageIds must be a non-empty array")
	}
	if len(messageIDs) > MaxMarkReadBatch {
		return nil, invalid("Too many messageIds")
	}

	rooms := make(map[uuid.UUID]bool)
	visible := make([]uuid.UUID, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := m.messages.GetByID(ctx, id)
		if err != nil {
			return nil, persistence("Failed to mark messages as read", err)
		}
		if msg == nil {
			continue
		}
		ok, err := m.participant(ctx, msg, readerID, rooms)
		if err != nil {
			return nil, persistence("Failed to mark messages as read", err)
		}
		if ok {
			visible = append(visible, id)
		}
	}

	marked, err := m.messages.MarkRead(ctx, visible, readerID)
	if err != nil {
		return nil, persistence("Failed to mark messages as read", err)
	}

	ids := make([]uuid.UUID, 0, len(marked))
	for _, msg := range marked {
		ids = append(ids, msg.ID)
		if msg.SenderID == readerID {
			continue
		}
		if msg.IsPrivate() || m.opts.RoomReadReceipts {
			m.emitter.Emit(ctx, protocol.UserChannel(msg.SenderID), protocol.MessageRead{
				MessageID: msg.ID,
				ReaderID:  readerID,
			})
		}
	}
	return ids, nil
}

// RecallOrDelete hides a message for everyone when nobody but the sender
// has read it, and otherwise hides it for userID only.
//
// Flow:
//  1. Load; fail with not found when missing or not visible to userID.
//  2. Fail when already recalled.
//  3. Try the conditional recall when userID may recall and the message
//     is unread by others.
//  4. Otherwise add userID to deletedBy. Repeating this is a no-op.
func (m *Manager) RecallOrDelete(ctx context.Context, userID, messageID uuid.UUID) (*RecallResult, error) {
	msg, err := m.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Recalled {
		return nil, invalid("Message already recalled")
	}

	mayRecall := !m.opts.SenderOnlyRecall || msg.SenderID == userID
	if mayRecall && !msg.ReadByOthers() {
		recalled, err := m.messages.Recall(ctx, messageID)
		if err != nil {
			return nil, persistence("Failed to recall message", err)
		}
		if recalled {
			m.announceRecall(ctx, msg)
			return &RecallResult{MessageID: messageID, Outcome: OutcomeRecalled, Message: "Message recalled (hidden for all)"}, nil
		}

		// Someone read or recalled it between the load and the update.
		msg, err = m.load(ctx, userID, messageID)
		if err != nil {
			return nil, err
		}
		if msg.Recalled {
			return nil, invalid("Message already recalled")
		}
	}

	if _, err := m.messages.AddDeletedBy(ctx, messageID, userID); err != nil {
		return nil, persistence("Failed to delete message", err)
	}
	return &RecallResult{MessageID: messageID, Outcome: OutcomeDeletedForUser, Message: "Message deleted for you only"}, nil
}

func (m *Manager) load(ctx context.Context, userID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := m.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, persistence("Failed to load message", err)
	}
	if msg == nil {
		return nil, notFound("Message not found")
	}
	ok, err := m.participant(ctx, msg, userID, nil)
	if err != nil {
		return nil, persistence("Failed to load message", err)
	}
	if !ok {
		return nil, notFound("Message not found")
	}
	return msg, nil
}

func (m *Manager) announceRecall(ctx context.Context, msg *models.Message) {
	ev := protocol.MessageRecalled{MessageID: msg.ID, RoomID: msg.RoomID}
	if msg.RoomID != nil {
		m.emitter.Emit(ctx, protocol.RoomChannel(*msg.RoomID), ev)
		return
	}
	m.emitter.Emit(ctx, protocol.UserChannel(*msg.ReceiverID), ev)
	m.emitter.Emit(ctx, protocol.UserChannel(msg.SenderID), ev)
}

// DeleteOwn physically removes a message. Only its sender may do this, and
// it ignores read state.
func (m *Manager) DeleteOwn(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := m.messages.GetByID(ctx, messageID)
	if err != nil {
		return persistence("Failed to delete message", err)
	}
	if msg == nil {
		return notFound("Message not found")
	}
	if msg.SenderID != userID {
		return forbidden("Unauthorized to delete this message")
	}
	if _, err := m.messages.DeleteBySender(ctx, messageID, userID); err != nil {
		return persistence("Failed to delete message", err)
	}
	m.logger.Info("message deleted by sender", zap.Stringer("message_id", messageID), zap.Stringer("user_id", userID))
	return nil
}
