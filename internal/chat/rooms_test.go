package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
)

type recordingEvictor struct {
	evicted []string
	closed  []string
}

func (r *recordingEvictor) EvictUser(channel string, userID uuid.UUID) {
	r.evicted = append(r.evicted, channel+"/"+userID.String())
}

func (r *recordingEvictor) CloseChannel(channel string) { r.closed = append(r.closed, channel) }

func TestCreateRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	svc := NewRooms(f.stores.Rooms, f.stores.Users, nil, 10, f.logger)

	if _, err := svc.Create(ctx, a.ID, CreateRoomInput{Name: "ab"}); !errors.Is(err, ErrValidation) {
		t.Errorf("short name err = %v", err)
	}

	room, err := svc.Create(ctx, a.ID, CreateRoomInput{
		Name:      "general",
		IsPublic:  true,
		MemberIDs: []uuid.UUID{b.ID, b.ID, a.ID, uuid.New()},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(room.Members) != 2 || room.Members[0] != a.ID || !room.HasMember(b.ID) {
		t.Errorf("members = %v", room.Members)
	}
	if room.CreatedBy != a.ID || !room.IsPublic {
		t.Errorf("room = %+v", room)
	}

	dm, err := svc.Create(ctx, a.ID, CreateRoomInput{IsPrivate: true, IsPublic: true, MemberIDs: []uuid.UUID{b.ID}})
	if err != nil {
		t.Fatalf("private Create: %v", err)
	}
	if dm.IsPublic {
		t.Error("a private room is never public")
	}

	if _, err := svc.Create(ctx, a.ID, CreateRoomInput{Name: "big", MemberIDs: make10()}); !errors.Is(err, ErrValidation) {
		t.Errorf("over cap err = %v", err)
	}
}

func make10() []uuid.UUID {
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestRoomJoinFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, joiner, other := f.user(t, "owner"), f.user(t, "joiner"), f.user(t, "other")
	svc := NewRooms(f.stores.Rooms, f.stores.Users, nil, 2, f.logger)
	room, err := svc.Create(ctx, owner.ID, CreateRoomInput{Name: "lobby", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx, joiner.ID, room.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member Get err = %v", err)
	}

	jr, err := svc.RequestJoin(ctx, joiner.ID, room.ID)
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if _, err := svc.RequestJoin(ctx, joiner.ID, room.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate join err = %v", err)
	}
	if _, err := svc.ResolveJoin(ctx, joiner.ID, room.ID, jr.ID, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin approve err = %v", err)
	}

	got, err := svc.ResolveJoin(ctx, owner.ID, room.ID, jr.ID, true)
	if err != nil || got.Status != models.JoinRequestApproved {
		t.Fatalf("approve = %+v, %v", got, err)
	}
	if _, err := svc.ResolveJoin(ctx, owner.ID, room.ID, jr.ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolving twice err = %v", err)
	}

	view, err := svc.Get(ctx, joiner.ID, room.ID)
	if err != nil {
		t.Fatalf("member Get: %v", err)
	}
	if len(view.JoinRequests) != 0 {
		t.Error("join requests are visible to the admin only")
	}
	if view, _ := svc.Get(ctx, owner.ID, room.ID); len(view.JoinRequests) != 1 {
		t.Errorf("admin sees %d join requests", len(view.JoinRequests))
	}

	if err := svc.AddMember(ctx, owner.ID, room.ID, other.ID); !errors.Is(err, ErrValidation) || PublicMessage(err) != "Room has reached maximum capacity" {
		t.Errorf("full room err = %v", err)
	}
	if err := svc.AddMember(ctx, owner.ID, room.ID, joiner.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("existing member err = %v", err)
	}
	if err := svc.AddMember(ctx, joiner.ID, room.ID, other.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin add err = %v", err)
	}
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, member := f.user(t, "owner"), f.user(t, "member")
	ev := &recordingEvictor{}
	svc := NewRooms(f.stores.Rooms, f.stores.Users, ev, 10, f.logger)
	room, err := svc.Create(ctx, owner.ID, CreateRoomInput{Name: "team", MemberIDs: []uuid.UUID{member.ID}})
	if err != nil {
		t.Fatal(err)
	}
	channel := protocol.RoomChannel(room.ID)

	res, err := svc.Leave(ctx, owner.ID, room.ID)
	if err != nil {
		t.Fatalf("owner Leave: %v", err)
	}
	if res.RoomDeleted || res.NewOwner != member.ID {
		t.Errorf("result = %+v", res)
	}
	if len(ev.evicted) != 1 || ev.evicted[0] != channel+"/"+owner.ID.String() {
		t.Errorf("evicted = %v", ev.evicted)
	}
	if _, err := svc.Leave(ctx, owner.ID, room.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second leave err = %v", err)
	}

	res, err = svc.Leave(ctx, member.ID, room.ID)
	if err != nil || !res.RoomDeleted {
		t.Fatalf("last Leave = %+v, %v", res, err)
	}
	if len(ev.closed) != 1 || ev.closed[0] != channel {
		t.Errorf("closed = %v", ev.closed)
	}
	if r, _ := f.stores.Rooms.GetByID(ctx, room.ID); r != nil {
		t.Error("empty room still stored")
	}
}

func TestPrivateRoomIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	svc := NewRooms(f.stores.Rooms, f.stores.Users, nil, 10, f.logger)
	dm, err := svc.Create(ctx, a.ID, CreateRoomInput{IsPrivate: true, MemberIDs: []uuid.UUID{b.ID}})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.AddMember(ctx, a.ID, dm.ID, c.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("add to private err = %v", err)
	}
	if _, err := svc.RequestJoin(ctx, c.ID, dm.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("join private err = %v", err)
	}
	res, err := svc.Leave(ctx, b.ID, dm.ID)
	if err != nil || !res.RoomDeleted {
		t.Errorf("leaving a private room = %+v, %v", res, err)
	}

	public, _ := svc.ListPublic(ctx)
	if len(public) != 0 {
		t.Errorf("public rooms = %d", len(public))
	}
}
