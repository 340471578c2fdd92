package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/protocol"
	"go.uber.org/zap"
)

// Dispatcher routes decoded inbound frames to the chat services and
// answers the sender. A frame with an ackId always gets an ack, carrying
// either the result or the error. A failed frame without one gets an
// error event that echoes its tempId and roomId.
type Dispatcher struct {
	gate      *chat.Gatekeeper
	engine    *chat.Engine
	lifecycle *chat.Manager
	logger    *zap.Logger
}

func NewDispatcher(gate *chat.Gatekeeper, engine *chat.Engine, lifecycle *chat.Manager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{gate: gate, engine: engine, lifecycle: lifecycle, logger: logger}
}

type joinResult struct {
	RoomID uuid.UUID `json:"roomId"`
	Joined bool      `json:"joined"`
}

type markReadResult struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

// Handle decodes raw and runs it for c.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, raw []byte) {
	in, ackID, err := protocol.DecodeInbound(raw)
	if err != nil {
		body := &protocol.ErrorBody{Code: chat.KindValidation.Code(), Message: "Malformed message"}
		if errors.Is(err, protocol.ErrUnknownKind) {
			body.Message = "Unknown message type"
		}
		if ackID != "" {
			c.hub.reply(c, protocol.Ack{AckID: ackID, Err: body})
			return
		}
		c.hub.reply(c, protocol.ErrorEvent{Code: body.Code, Message: body.Message})
		return
	}

	result, err := d.run(ctx, c, in)
	if ackID != "" {
		ack := protocol.Ack{AckID: ackID, Result: result}
		if err != nil {
			ack.Result = nil
			ack.Err = chat.ErrorBody(err)
		}
		c.hub.reply(c, ack)
		return
	}
	if err != nil {
		c.hub.reply(c, errorEvent(in, err))
	}
}

// run is exhaustive over protocol.Inbound.
func (d *Dispatcher) run(ctx context.Context, c *Client, in protocol.Inbound) (any, error) {
	switch v := in.(type) {
	case protocol.JoinRoom:
		if err := d.gate.JoinRoomChannel(ctx, c, v.RoomID); err != nil {
			return nil, err
		}
		return joinResult{RoomID: v.RoomID, Joined: true}, nil

	case protocol.LeaveRoom:
		d.gate.LeaveRoomChannel(c, v.RoomID)
		return joinResult{RoomID: v.RoomID, Joined: false}, nil

	case protocol.RoomMessage:
		return d.engine.SendRoom(ctx, c.userID, v)

	case protocol.PrivateMessage:
		return d.engine.SendPrivate(ctx, c.userID, v)

	case protocol.MarkRead:
		ids, err := d.lifecycle.MarkRead(ctx, c.userID, v.MessageIDs)
		if err != nil {
			return nil, err
		}
		return markReadResult{MessageIDs: ids}, nil

	case protocol.RecallOrDelete:
		return d.lifecycle.RecallOrDelete(ctx, c.userID, v.MessageID)

	default:
		d.logger.Error("unhandled inbound kind", zap.String("kind", string(in.Kind())))
		return nil, errors.New("unhandled inbound kind")
	}
}

func errorEvent(in protocol.Inbound, err error) protocol.ErrorEvent {
	body := chat.ErrorBody(err)
	ev := protocol.ErrorEvent{Request: in.Kind(), Code: body.Code, Message: body.Message}
	switch v := in.(type) {
	case protocol.JoinRoom:
		ev.RoomID = v.RoomID.String()
	case protocol.RoomMessage:
		ev.RoomID = v.RoomID.String()
		ev.TempID = v.TempID
	case protocol.PrivateMessage:
		ev.TempID = v.TempID
	}
	return ev
}
