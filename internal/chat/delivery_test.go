package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lalith-99/echochat/internal/protocol"
)

func TestSendPrivateRequiresFriendship(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")

	_, err := f.engine().SendPrivate(context.Background(), a.ID, protocol.PrivateMessage{ReceiverID: b.ID, Content: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if PublicMessage(err) != "You are not friends with this user" {
		t.Errorf("message = %q", PublicMessage(err))
	}
	if n := f.db.MessageCount(); n != 0 {
		t.Errorf("stored %d messages, want 0", n)
	}
	if len(f.emitter.events) != 0 {
		t.Errorf("emitted %d events, want 0", len(f.emitter.events))
	}
}

func TestSendPrivateEmitsToBothUsers(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	f.db.AddFriends(a.ID, b.ID)

	got, err := f.engine().SendPrivate(context.Background(), a.ID, protocol.PrivateMessage{ReceiverID: b.ID, Content: "hello", TempID: "x1"})
	if err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	if got.TempID != "x1" || got.Content != "hello" || got.Sender.Username != "alice" {
		t.Errorf("delivered = %+v", got)
	}
	if got.ReceiverID == nil || *got.ReceiverID != b.ID || got.RoomID != nil {
		t.Errorf("addressing = receiver %v room %v", got.ReceiverID, got.RoomID)
	}

	for _, ch := range []string{protocol.UserChannel(b.ID), protocol.UserChannel(a.ID)} {
		evs := f.emitter.on(ch)
		if len(evs) != 1 {
			t.Fatalf("%s: %d events, want 1", ch, len(evs))
		}
		pm, ok := evs[0].(protocol.PrivateMessageEvent)
		if !ok {
			t.Fatalf("%s: event %T", ch, evs[0])
		}
		if pm.ID != got.ID || pm.TempID != "x1" {
			t.Errorf("%s: event = %+v", ch, pm)
		}
	}
	if n := f.db.MessageCount(); n != 1 {
		t.Errorf("stored %d messages, want 1", n)
	}
}

func TestSendRoomEchoesTempID(t *testing.T) {
	f := newFixture(t)
	owner, member := f.user(t, "owner"), f.user(t, "member")
	room := f.room(t, owner.ID, member.ID)

	got, err := f.engine().SendRoom(context.Background(), member.ID, protocol.RoomMessage{RoomID: room.ID, Content: "yo", TempID: "t1"})
	if err != nil {
		t.Fatalf("SendRoom: %v", err)
	}

	evs := f.emitter.on(protocol.RoomChannel(room.ID))
	if len(evs) != 1 {
		t.Fatalf("room events = %d, want 1", len(evs))
	}
	ev := evs[0].(protocol.RoomMessageEvent)
	if ev.TempID != "t1" || ev.ID != got.ID {
		t.Errorf("event = %+v", ev)
	}

	stored, err := f.stores.Messages.GetWithSender(context.Background(), got.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetWithSender: %v %v", stored, err)
	}
	if stored.Content != "yo" || stored.Sender.ID != member.ID || *stored.RoomID != room.ID {
		t.Errorf("stored = %+v", stored)
	}
}

func TestSendRoomRejects(t *testing.T) {
	f := newFixture(t)
	owner, outsider := f.user(t, "owner"), f.user(t, "outsider")
	room := f.room(t, owner.ID)
	e := f.engine()
	ctx := context.Background()

	tests := []struct {
		name   string
		in     protocol.RoomMessage
		who    string
		want   error
	}{
		{name: "non-member", in: protocol.RoomMessage{RoomID: room.ID, Content: "hi"}, who: "outsider", want: ErrForbidden},
		{name: "empty", in: protocol.RoomMessage{RoomID: room.ID, Content: "   "}, who: "owner", want: ErrValidation},
		{name: "too long", in: protocol.RoomMessage{RoomID: room.ID, Content: strings.Repeat("a", 101)}, who: "owner", want: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := owner.ID
			if tt.who == "outsider" {
				id = outsider.ID
			}
			if _, err := e.SendRoom(ctx, id, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if f.db.MessageCount() != 0 {
		t.Error("rejected sends must not store anything")
	}
}

func TestSendRoomPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	room := f.room(t, owner.ID)
	f.db.FailMessages(errors.New("disk full"))

	_, err := f.engine().SendRoom(context.Background(), owner.ID, protocol.RoomMessage{RoomID: room.ID, Content: "hi"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want persistence", err)
	}
	if PublicMessage(err) != "Failed to send message" {
		t.Errorf("message = %q", PublicMessage(err))
	}
	if len(f.emitter.on(protocol.RoomChannel(room.ID))) != 0 {
		t.Error("nothing may be broadcast when the write fails")
	}
}
