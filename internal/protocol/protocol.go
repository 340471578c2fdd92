// Package protocol defines every frame exchanged over the realtime
// connection. Inbound and Outbound are closed: only the types in this
// package implement them, so a type switch over either covers all kinds.
//
// Wire format:
//
//	{"type": "<kind>", "ackId": "<optional>", "data": {...}, "error": {...}}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
)

type Kind string

// Inbound kinds.
const (
	KindJoinRoom       Kind = "joinRoom"
	KindLeaveRoom      Kind = "leaveRoom"
	KindRoomMessage    Kind = "roomMessage"
	KindPrivateMessage Kind = "privateMessage"
	KindMarkRead       Kind = "markRead"
	KindRecallOrDelete Kind = "recallOrDelete"
)

// Outbound-only kinds. roomMessage and privateMessage are shared.
const (
	KindOnlineUsers           Kind = "onlineUsers"
	KindMessageRead           Kind = "messageRead"
	KindMessageRecalled       Kind = "messageRecalled"
	KindFriendRequestReceived Kind = "friendRequestReceived"
	KindFriendRequestAccepted Kind = "friendRequestAccepted"
	KindAck                   Kind = "ack"
	KindError                 Kind = "error"
)

// Frame is the envelope every message travels in.
type Frame struct {
	Type  Kind            `json:"type"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a refused operation.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown frame type")
)

// ---------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------

// Inbound is a request from a client.
type Inbound interface {
	Kind() Kind
	inbound()
}

type JoinRoom struct {
	RoomID uuid.UUID `json:"roomId"`
}

type LeaveRoom struct {
	RoomID uuid.UUID `json:"roomId"`
}

type RoomMessage struct {
	RoomID  uuid.UUID `json:"roomId"`
	Content string    `json:"content"`
	TempID  string    `json:"tempId,omitempty"`
}

type PrivateMessage struct {
	ReceiverID uuid.UUID `json:"receiverId"`
	Content    string    `json:"content"`
	TempID     string    `json:"tempId,omitempty"`
}

type MarkRead struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

type RecallOrDelete struct {
	MessageID uuid.UUID `json:"messageId"`
}

func (JoinRoom) Kind() Kind       { return KindJoinRoom }
func (LeaveRoom) Kind() Kind      { return KindLeaveRoom }
func (RoomMessage) Kind() Kind    { return KindRoomMessage }
func (PrivateMessage) Kind() Kind { return KindPrivateMessage }
func (MarkRead) Kind() Kind       { return KindMarkRead }
func (RecallOrDelete) Kind() Kind { return KindRecallOrDelete }

func (JoinRoom) inbound()       {}
func (LeaveRoom) inbound()      {}
func (RoomMessage) inbound()    {}
func (PrivateMessage) inbound() {}
func (MarkRead) inbound()       {}
func (RecallOrDelete) inbound() {}

// DecodeInbound parses a client frame. The returned ack id is set even
// when decoding the payload fails, so the caller can still answer it.
func DecodeInbound(raw []byte) (Inbound, string, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var in Inbound
	switch f.Type {
	case KindJoinRoom:
		in = &JoinRoom{}
	case KindLeaveRoom:
		in = &LeaveRoom{}
	case KindRoomMessage:
		in = &RoomMessage{}
	case KindPrivateMessage:
		in = &PrivateMessage{}
	case KindMarkRead:
		in = &MarkRead{}
	case KindRecallOrDelete:
		in = &RecallOrDelete{}
	default:
		return nil, f.AckID, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
	}

	if len(f.Data) == 0 {
		return nil, f.AckID, fmt.Errorf("%w: %s without data", ErrMalformedFrame, f.Type)
	}
	if err := json.Unmarshal(f.Data, in); err != nil {
		return nil, f.AckID, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Type, err)
	}
	return deref(in), f.AckID, nil
}

// deref returns the value form so handlers switch on value types only.
func deref(in Inbound) Inbound {
	switch v := in.(type) {
	case *JoinRoom:
		return *v
	case *LeaveRoom:
		return *v
	case *RoomMessage:
		return *v
	case *PrivateMessage:
		return *v
	case *MarkRead:
		return *v
	case *RecallOrDelete:
		return *v
	}
	return in
}

// EncodeInbound builds a client frame. Clients and tests use it.
func EncodeInbound(in Inbound, ackID string) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", in.Kind(), err)
	}
	return json.Marshal(Frame{Type: in.Kind(), AckID: ackID, Data: data})
}

// ---------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------

// Outbound is an event sent by the server.
type Outbound interface {
	Kind() Kind
	outbound()
}

type OnlineUsers struct {
	Users []uuid.UUID `json:"users"`
}

// DeliveredMessage is a persisted, populated message plus the client's
// correlation token, echoed unchanged.
type DeliveredMessage struct {
	models.MessageView
	TempID string `json:"tempId,omitempty"`
}

type RoomMessageEvent struct {
	DeliveredMessage
}

type PrivateMessageEvent struct {
	DeliveredMessage
}

type MessageRead struct {
	MessageID uuid.UUID `json:"messageId"`
	ReaderID  uuid.UUID `json:"readerId"`
}

type MessageRecalled struct {
	MessageID uuid.UUID  `json:"messageId"`
	RoomID    *uuid.UUID `json:"roomId,omitempty"`
}

type FriendRequestReceived struct {
	RequestID    uuid.UUID `json:"requestId"`
	FromID       uuid.UUID `json:"fromId"`
	FromUsername string    `json:"fromUsername"`
}

type FriendRequestAccepted struct {
	RequestID uuid.UUID `json:"requestId"`
	FriendID  uuid.UUID `json:"friendId"`
}

// Ack answers an inbound frame that carried an ack id.
type Ack struct {
	AckID  string
	Result any
	Err    *ErrorBody
}

// ErrorEvent reports a refused operation that had no ack id.
type ErrorEvent struct {
	Request Kind   `json:"request"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

func (OnlineUsers) Kind() Kind           { return KindOnlineUsers }
func (RoomMessageEvent) Kind() Kind      { return KindRoomMessage }
func (PrivateMessageEvent) Kind() Kind   { return KindPrivateMessage }
func (MessageRead) Kind() Kind           { return KindMessageRead }
func (MessageRecalled) Kind() Kind       { return KindMessageRecalled }
func (FriendRequestReceived) Kind() Kind { return KindFriendRequestReceived }
func (FriendRequestAccepted) Kind() Kind { return KindFriendRequestAccepted }
func (Ack) Kind() Kind                   { return KindAck }
func (ErrorEvent) Kind() Kind            { return KindError }

func (OnlineUsers) outbound()           {}
func (RoomMessageEvent) outbound()      {}
func (PrivateMessageEvent) outbound()   {}
func (MessageRead) outbound()           {}
func (MessageRecalled) outbound()       {}
func (FriendRequestReceived) outbound() {}
func (FriendRequestAccepted) outbound() {}
func (Ack) outbound()                   {}
func (ErrorEvent) outbound()            {}

// Encode serialises an outbound event into a frame.
func Encode(out Outbound) ([]byte, error) {
	f := Frame{Type: out.Kind()}
	var payload any = out

	switch v := out.(type) {
	case Ack:
		f.AckID = v.AckID
		f.Error = v.Err
		payload = v.Result
	case OnlineUsers, RoomMessageEvent, PrivateMessageEvent, MessageRead,
		MessageRecalled, FriendRequestReceived, FriendRequestAccepted, ErrorEvent:
	default:
		return nil, fmt.Errorf("encode: unsupported outbound %T", out)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.Type, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// UserChannel is the personal channel every connection of userID joins.
func UserChannel(userID uuid.UUID) string { return "user_" + userID.String() }

// RoomChannel is the broadcast channel of a room.
func RoomChannel(roomID uuid.UUID) string { return roomID.String() }
