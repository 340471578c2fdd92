// Package repotest holds behaviour tests shared by every repository
// implementation.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/repository"
)

// Run exercises stores built by newStores. newStores must return empty stores.
func Run(t *testing.T, newStores func(t *testing.T) repository.Stores) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStores(t)) })
	t.Run("UserSearch", func(t *testing.T) { testUserSearch(t, newStores(t)) })
	t.Run("FriendRequests", func(t *testing.T) { testFriendRequests(t, newStores(t)) })
	t.Run("RoomMembership", func(t *testing.T) { testRoomMembership(t, newStores(t)) })
	t.Run("JoinRequests", func(t *testing.T) { testJoinRequests(t, newStores(t)) })
	t.Run("MessageLifecycle", func(t *testing.T) { testMessageLifecycle(t, newStores(t)) })
	t.Run("MessageHistory", func(t *testing.T) { testMessageHistory(t, newStores(t)) })
	t.Run("ConcurrentAddMember", func(t *testing.T) { testConcurrentAddMember(t, newStores(t)) })
	t.Run("ConcurrentMarkRead", func(t *testing.T) { testConcurrentMarkRead(t, newStores(t)) })
	t.Run("RecallRacesMarkRead", func(t *testing.T) { testRecallRacesMarkRead(t, newStores(t)) })
}

var seq int

// NewUser creates a user with a unique name.
func NewUser(t *testing.T, s repository.Stores) *models.User {
	t.Helper()
	seq++
	name := fmt.Sprintf("user%d_%s", seq, uuid.NewString()[:8])
	u, err := s.Users.Create(context.Background(), name, name+"@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func testUsers(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	u := NewUser(t, s)

	if _, err := s.Users.Create(ctx, u.Username, "other@example.com", "h"); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("duplicate username err = %v, want ErrConflict", err)
	}
	got, err := s.Users.GetByEmail(ctx, u.Email)
	if err != nil || got == nil || got.ID != u.ID {
		t.Fatalf("GetByEmail = %v, %v", got, err)
	}
	missing, err := s.Users.GetByID(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("GetByID(missing) = %v, %v; want nil, nil", missing, err)
	}
	ids, err := s.Users.ExistingIDs(ctx, []uuid.UUID{u.ID, uuid.New()})
	if err != nil || len(ids) != 1 || ids[0] != u.ID {
		t.Errorf("ExistingIDs = %v, %v", ids, err)
	}
}

func testUserSearch(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	tag := uuid.NewString()[:8]
	mustCreate := func(name, email string) *models.User {
		u, err := s.Users.Create(ctx, name+tag, email+tag+"@mail.test", "h")
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return u
	}
	alice := mustCreate("alice", "a")
	alina := mustCreate("ALINA", "b")
	bob := mustCreate("bob", "bob.ali")
	mustCreate("carol", "c")

	found, err := s.Users.Search(ctx, "ali", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := map[uuid.UUID]bool{alice.ID: true, alina.ID: true, bob.ID: true}
	if len(found) != len(want) {
		t.Fatalf("Search(ali) = %d users, want %d", len(found), len(want))
	}
	for _, u := range found {
		if !want[u.ID] {
			t.Errorf("unexpected match %q", u.Username)
		}
	}

	if found, _ := s.Users.Search(ctx, "ali", 2); len(found) != 2 {
		t.Errorf("limit 2 returned %d users", len(found))
	}
	if found, _ := s.Users.Search(ctx, "%", 10); len(found) != 0 {
		t.Errorf("wildcard characters must match literally, got %d users", len(found))
	}
}

func testFriendRequests(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	a, b, c := NewUser(t, s), NewUser(t, s), NewUser(t, s)

	fr, err := s.FriendRequests.Create(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.FriendRequests.Create(ctx, b.ID, a.ID); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("duplicate request err = %v, want ErrConflict", err)
	}

	accepted, err := s.FriendRequests.Accept(ctx, fr.ID)
	if err != nil || accepted == nil || accepted.Status != models.FriendRequestAccepted {
		t.Fatalf("Accept = %+v, %v", accepted, err)
	}
	again, err := s.FriendRequests.Accept(ctx, fr.ID)
	if err != nil || again != nil {
		t.Errorf("second Accept = %+v, %v; want nil, nil", again, err)
	}

	for _, pair := range [][2]uuid.UUID{{a.ID, b.ID}, {b.ID, a.ID}} {
		edge, err := s.Friends.FindEdge(ctx, pair[0], pair[1])
		if err != nil || edge == nil {
			t.Fatalf("FindEdge(%v) = %v, %v", pair, edge, err)
		}
		u1, u2 := models.CanonicalPair(a.ID, b.ID)
		if edge.User1 != u1 || edge.User2 != u2 {
			t.Errorf("edge not canonical: %+v", edge)
		}
	}
	if edge, _ := s.Friends.FindEdge(ctx, a.ID, c.ID); edge != nil {
		t.Errorf("unexpected edge a-c")
	}

	friends, err := s.Friends.ListFriends(ctx, a.ID)
	if err != nil || len(friends) != 1 || friends[0].ID != b.ID {
		t.Errorf("ListFriends = %v, %v", friends, err)
	}

	fr2, _ := s.FriendRequests.Create(ctx, c.ID, a.ID)
	pending, _ := s.FriendRequests.ListPending(ctx, a.ID, true)
	if len(pending) != 1 || pending[0].ID != fr2.ID {
		t.Errorf("ListPending incoming = %v", pending)
	}
	rejected, err := s.FriendRequests.Resolve(ctx, fr2.ID, models.FriendRequestRejected)
	if err != nil || rejected == nil || rejected.Status != models.FriendRequestRejected {
		t.Errorf("Resolve = %+v, %v", rejected, err)
	}
	if edge, _ := s.Friends.FindEdge(ctx, a.ID, c.ID); edge != nil {
		t.Error("rejecting must not create an edge")
	}
}

func testRoomMembership(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	owner, m1, m2, m3 := NewUser(t, s), NewUser(t, s), NewUser(t, s), NewUser(t, s)

	room, err := s.Rooms.Create(ctx, &models.Room{
		Name: "general", CreatedBy: owner.ID, IsPublic: true,
		Members: []uuid.UUID{owner.ID, m1.ID, m1.ID},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(room.Members) != 2 {
		t.Fatalf("members = %v, want 2 unique", room.Members)
	}

	added, err := s.Rooms.AddMember(ctx, room.ID, m2.ID, 3)
	if err != nil || !added {
		t.Fatalf("AddMember = %v, %v", added, err)
	}
	if added, err := s.Rooms.AddMember(ctx, room.ID, m2.ID, 3); err != nil || added {
		t.Errorf("duplicate AddMember = %v, %v; want false, nil", added, err)
	}
	if _, err := s.Rooms.AddMember(ctx, room.ID, m3.ID, 3); !errors.Is(err, repository.ErrRoomFull) {
		t.Errorf("AddMember over cap err = %v, want ErrRoomFull", err)
	}

	res, err := s.Rooms.RemoveMember(ctx, room.ID, owner.ID)
	if err != nil || !res.Left || res.RoomDeleted {
		t.Fatalf("owner leave = %+v, %v", res, err)
	}
	got, _ := s.Rooms.GetByID(ctx, room.ID)
	if got == nil || got.CreatedBy != res.NewOwner || !got.HasMember(res.NewOwner) {
		t.Fatalf("ownership not transferred: room=%+v res=%+v", got, res)
	}

	for _, u := range []uuid.UUID{m1.ID, m2.ID} {
		res, err = s.Rooms.RemoveMember(ctx, room.ID, u)
		if err != nil {
			t.Fatalf("RemoveMember: %v", err)
		}
	}
	if !res.RoomDeleted {
		t.Error("last member leaving must delete the room")
	}
	if got, _ := s.Rooms.GetByID(ctx, room.ID); got != nil {
		t.Error("room still exists after last member left")
	}

	private, _ := s.Rooms.Create(ctx, &models.Room{CreatedBy: owner.ID, IsPrivate: true, Members: []uuid.UUID{owner.ID, m1.ID}})
	res, _ = s.Rooms.RemoveMember(ctx, private.ID, m1.ID)
	if !res.RoomDeleted {
		t.Error("leaving a private room must delete it")
	}
}

func testJoinRequests(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	owner, u := NewUser(t, s), NewUser(t, s)
	room, _ := s.Rooms.Create(ctx, &models.Room{Name: "lobby", CreatedBy: owner.ID, IsPublic: true, Members: []uuid.UUID{owner.ID}})

	jr, err := s.Rooms.CreateJoinRequest(ctx, room.ID, u.ID)
	if err != nil {
		t.Fatalf("CreateJoinRequest: %v", err)
	}
	if _, err := s.Rooms.CreateJoinRequest(ctx, room.ID, u.ID); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("duplicate pending request err = %v", err)
	}

	approved, err := s.Rooms.ResolveJoinRequest(ctx, room.ID, jr.ID, models.JoinRequestApproved, 10)
	if err != nil || approved == nil || approved.Status != models.JoinRequestApproved {
		t.Fatalf("approve = %+v, %v", approved, err)
	}
	if ok, _ := s.Rooms.IsMember(ctx, room.ID, u.ID); !ok {
		t.Error("approval must add the member")
	}
	again, err := s.Rooms.ResolveJoinRequest(ctx, room.ID, jr.ID, models.JoinRequestRejected, 10)
	if err != nil || again != nil {
		t.Errorf("resolving twice = %+v, %v; want nil, nil", again, err)
	}
}

func testMessageLifecycle(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	a, b := NewUser(t, s), NewUser(t, s)

	if _, err := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, Content: "x"}); err == nil {
		t.Error("message with neither receiver nor room must fail")
	}

	msg, err := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, ReceiverID: &b.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	view, err := s.Messages.GetWithSender(ctx, msg.ID)
	if err != nil || view == nil || view.Sender.Username != a.Username || view.Content != "hi" {
		t.Fatalf("GetWithSender = %+v, %v", view, err)
	}

	// The sender reading its own message does not block recall.
	if _, err := s.Messages.MarkRead(ctx, []uuid.UUID{msg.ID}, a.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	ok, err := s.Messages.Recall(ctx, msg.ID)
	if err != nil || !ok {
		t.Fatalf("Recall unread = %v, %v", ok, err)
	}
	if ok, _ := s.Messages.Recall(ctx, msg.ID); ok {
		t.Error("Recall must not apply twice")
	}

	read, _ := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, ReceiverID: &b.ID, Content: "seen"})
	marked, err := s.Messages.MarkRead(ctx, []uuid.UUID{read.ID, read.ID}, b.ID)
	if err != nil || len(marked) != 1 {
		t.Fatalf("MarkRead = %v, %v", marked, err)
	}
	if marked, _ := s.Messages.MarkRead(ctx, []uuid.UUID{read.ID}, b.ID); len(marked) != 0 {
		t.Errorf("second MarkRead returned %d messages", len(marked))
	}
	if ok, _ := s.Messages.Recall(ctx, read.ID); ok {
		t.Error("Recall must fail once read by someone else")
	}

	changed, err := s.Messages.AddDeletedBy(ctx, read.ID, a.ID)
	if err != nil || !changed {
		t.Fatalf("AddDeletedBy = %v, %v", changed, err)
	}
	if changed, _ := s.Messages.AddDeletedBy(ctx, read.ID, a.ID); changed {
		t.Error("AddDeletedBy must be idempotent")
	}
	got, _ := s.Messages.GetByID(ctx, read.ID)
	if got.Recalled || len(got.DeletedBy) != 1 {
		t.Errorf("after delete: %+v", got)
	}

	if ok, _ := s.Messages.DeleteBySender(ctx, read.ID, b.ID); ok {
		t.Error("non-sender hard delete must fail")
	}
	if ok, _ := s.Messages.DeleteBySender(ctx, read.ID, a.ID); !ok {
		t.Error("sender hard delete must succeed")
	}
	if got, _ := s.Messages.GetByID(ctx, read.ID); got != nil {
		t.Error("message still present after hard delete")
	}
}

func testMessageHistory(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	a, b := NewUser(t, s), NewUser(t, s)
	room, _ := s.Rooms.Create(ctx, &models.Room{Name: "hist", CreatedBy: a.ID, Members: []uuid.UUID{a.ID, b.ID}})

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		m, err := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, RoomID: &room.ID, Content: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, m.ID)
	}
	_, _ = s.Messages.Recall(ctx, ids[1])
	_, _ = s.Messages.AddDeletedBy(ctx, ids[2], b.ID)

	forB, err := s.Messages.ListRoom(ctx, room.ID, b.ID, uuid.Nil, 10)
	if err != nil {
		t.Fatalf("ListRoom: %v", err)
	}
	if len(forB) != 3 {
		t.Fatalf("b sees %d messages, want 3", len(forB))
	}
	if forB[0].ID != ids[3] {
		t.Errorf("history not newest first")
	}
	for _, v := range forB {
		if v.ID == ids[1] && v.Content != models.RecalledPlaceholder {
			t.Errorf("recalled content leaked: %q", v.Content)
		}
	}

	forA, _ := s.Messages.ListRoom(ctx, room.ID, a.ID, uuid.Nil, 10)
	if len(forA) != 4 {
		t.Errorf("a sees %d messages, want 4", len(forA))
	}

	page, _ := s.Messages.ListRoom(ctx, room.ID, a.ID, ids[2], 10)
	if len(page) != 2 || page[0].ID != ids[1] {
		t.Errorf("page before ids[2] = %d messages", len(page))
	}

	pm, _ := s.Messages.Create(ctx, repository.NewMessage{SenderID: b.ID, ReceiverID: &a.ID, Content: "dm"})
	dms, _ := s.Messages.ListPrivate(ctx, a.ID, b.ID, a.ID, uuid.Nil, 10)
	if len(dms) != 1 || dms[0].ID != pm.ID {
		t.Errorf("ListPrivate = %v", dms)
	}
}

// The cap must hold when many joins race for the last seats.
func testConcurrentAddMember(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	const maxMembers = 5
	owner := NewUser(t, s)
	room, err := s.Rooms.Create(ctx, &models.Room{Name: "race", CreatedBy: owner.ID, IsPublic: true, Members: []uuid.UUID{owner.ID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	joiners := make([]*models.User, 12)
	for i := range joiners {
		joiners[i] = NewUser(t, s)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		added, full int
	)
	for _, u := range joiners {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			ok, err := s.Rooms.AddMember(ctx, room.ID, id, maxMembers)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, repository.ErrRoomFull):
				full++
			case err != nil:
				t.Errorf("AddMember: %v", err)
			case ok:
				added++
			}
		}(u.ID)
	}
	wg.Wait()

	if added != maxMembers-1 || full != len(joiners)-(maxMembers-1) {
		t.Errorf("added=%d full=%d, want %d and %d", added, full, maxMembers-1, len(joiners)-(maxMembers-1))
	}
	got, _ := s.Rooms.GetByID(ctx, room.ID)
	if got == nil || len(got.Members) != maxMembers {
		t.Fatalf("room members after race = %v", got)
	}
}

// A reader marking the same message from many connections gets exactly one
// newly read row back, so exactly one receipt goes out.
func testConcurrentMarkRead(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	a, b := NewUser(t, s), NewUser(t, s)
	msg, err := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, ReceiverID: &b.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marked, err := s.Messages.MarkRead(ctx, []uuid.UUID{msg.ID}, b.ID)
			if err != nil {
				t.Errorf("MarkRead: %v", err)
				return
			}
			mu.Lock()
			total += len(marked)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("concurrent MarkRead returned %d rows in total, want 1", total)
	}
	got, _ := s.Messages.GetByID(ctx, msg.ID)
	if len(got.ReadBy) != 1 {
		t.Errorf("read_by = %v, want one entry", got.ReadBy)
	}
}

// Recall and a receiver's MarkRead race. Recall may only lose because the
// receiver read first, and it applies at most once.
func testRecallRacesMarkRead(t *testing.T, s repository.Stores) {
	ctx := context.Background()
	a, b := NewUser(t, s), NewUser(t, s)

	for i := 0; i < 20; i++ {
		msg, err := s.Messages.Create(ctx, repository.NewMessage{SenderID: a.ID, ReceiverID: &b.ID, Content: "race"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		var (
			wg       sync.WaitGroup
			recalled [2]bool
		)
		for r := range recalled {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				ok, err := s.Messages.Recall(ctx, msg.ID)
				if err != nil {
					t.Errorf("Recall: %v", err)
				}
				recalled[r] = ok
			}(r)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Messages.MarkRead(ctx, []uuid.UUID{msg.ID}, b.ID); err != nil {
				t.Errorf("MarkRead: %v", err)
			}
		}()
		wg.Wait()

		if recalled[0] && recalled[1] {
			t.Fatal("Recall applied twice")
		}
		got, _ := s.Messages.GetByID(ctx, msg.ID)
		if !got.Recalled && !got.ReadByOthers() {
			t.Fatalf("recall lost without the receiver reading: %+v", got)
		}
		if got.Recalled != (recalled[0] || recalled[1]) {
			t.Fatalf("stored recalled=%v disagrees with Recall results %v", got.Recalled, recalled)
		}
	}
}
