package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Username and email are unique.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FriendRequestStatus values. A request leaves pending exactly once.
type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestRejected  FriendRequestStatus = "rejected"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

// FriendRequest is a directed edge, unique per (From, To). Rows are never
// deleted so they double as an audit log.
type FriendRequest struct {
	ID        uuid.UUID           `json:"id"`
	FromID    uuid.UUID           `json:"fromId"`
	ToID      uuid.UUID           `json:"toId"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Friend is an undirected edge stored with User1 < User2.
type Friend struct {
	User1     uuid.UUID `json:"user1"`
	User2     uuid.UUID `json:"user2"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// CanonicalPair orders a and b the way Friend rows store them.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// Other returns the side of the edge that is not userID.
func (f Friend) Other(userID uuid.UUID) uuid.UUID {
	if f.User1 == userID {
		return f.User2
	}
	return f.User1
}

// Room is a multi-member chat. Members is never empty while the room exists.
//
// Why both IsPublic and IsPrivate?
//   - IsPublic only controls discovery: public rooms show up in the room
//     list and accept join requests.
//   - IsPrivate is a two-person conversation kept as a room. Nobody can be
//     added later, and it is deleted as soon as either side leaves.
//   - A private room is never public; creation enforces that.
//
// Why members as a slice and not a separate table struct?
//   - Every caller wants the whole list (authorization, fan-out, the
//     member cap), so the store loads it with the room.
type Room struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	CreatedBy    uuid.UUID     `json:"createdBy"`
	IsPublic     bool          `json:"isPublic"`
	IsPrivate    bool          `json:"isPrivate"`
	Members      []uuid.UUID   `json:"members"`
	JoinRequests []JoinRequest `json:"joinRequests,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// HasMember reports whether userID is in r.Members.
func (r *Room) HasMember(userID uuid.UUID) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

type JoinRequest struct {
	ID        uuid.UUID         `json:"id"`
	RoomID    uuid.UUID         `json:"roomId"`
	UserID    uuid.UUID         `json:"userId"`
	Status    JoinRequestStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Message is either private (ReceiverID set) or a room message (RoomID set),
// never both.
//
// Why Recalled instead of deleting the row?
//   - Both parties keep seeing that something was said. History shows a
//     placeholder in place of the content (see MessageView.Redacted).
//
// Why DeletedBy and ReadBy as id sets?
//   - Deleting for yourself hides the message from one viewer only, so
//     the row stays and records who hid it.
//   - ReadBy decides whether a recall is still allowed: only while nobody
//     but the sender has read it. The store updates both sets atomically;
//     nothing loads, appends and saves.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"senderId"`
	ReceiverID *uuid.UUID  `json:"receiverId,omitempty"`
	RoomID     *uuid.UUID  `json:"roomId,omitempty"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"timestamp"`
	Recalled   bool        `json:"recalled"`
	DeletedBy  []uuid.UUID `json:"deletedBy"`
	ReadBy     []uuid.UUID `json:"readBy"`
}

func (m *Message) IsPrivate() bool { return m.ReceiverID != nil }

// ReadByOthers reports whether anyone other than the sender has read m.
func (m *Message) ReadByOthers() bool {
	for _, id := range m.ReadBy {
		if id != m.SenderID {
			return true
		}
	}
	return false
}

// DeletedFor reports whether userID has hidden m for themselves.
func (m *Message) DeletedFor(userID uuid.UUID) bool {
	for _, id := range m.DeletedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Sender is the public identity attached to an enriched message.
type Sender struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
}

// RecalledPlaceholder replaces the content of recalled messages.
const RecalledPlaceholder = "This message was recalled"

// MessageView is a message with its sender populated, as emitted to clients.
type MessageView struct {
	Message
	Sender Sender `json:"sender"`
}

// Redacted returns a copy safe to show: recalled content is replaced.
func (v MessageView) Redacted() MessageView {
	if v.Recalled {
		v.Content = RecalledPlaceholder
	}
	return v
}
