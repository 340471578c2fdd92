// Package memory is an in-process implementation of the repository
// interfaces. A single mutex makes every method atomic, which gives the
// same guarantees the Postgres stores get from conditional updates.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/repository"
)

type messageRec struct {
	msg models.Message
	seq int64
}

// DB holds all in-memory state.
type DB struct {
	mu sync.Mutex

	users          map[uuid.UUID]models.User
	friendRequests map[uuid.UUID]models.FriendRequest
	friends        map[[2]uuid.UUID]models.Friend
	rooms          map[uuid.UUID]*models.Room
	messages       map[uuid.UUID]*messageRec
	seq            int64

	failMessages error
}

func New() *DB {
	return &DB{
		users:          make(map[uuid.UUID]models.User),
		friendRequests: make(map[uuid.UUID]models.FriendRequest),
		friends:        make(map[[2]uuid.UUID]models.Friend),
		rooms:          make(map[uuid.UUID]*models.Room),
		messages:       make(map[uuid.UUID]*messageRec),
	}
}

// Stores exposes db through the repository interfaces.
func (db *DB) Stores() repository.Stores {
	return repository.Stores{
		Users:          &UserStore{db},
		Friends:        &FriendStore{db},
		FriendRequests: &FriendRequestStore{db},
		Rooms:          &RoomStore{db},
		Messages:       &MessageStore{db},
	}
}

// FailMessages makes every message write return err until called with nil.
func (db *DB) FailMessages(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failMessages = err
}

// MessageCount returns the number of stored messages.
func (db *DB) MessageCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.messages)
}

// AddFriends stores an accepted edge directly.
func (db *DB) AddFriends(a, b uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u1, u2 := models.CanonicalPair(a, b)
	db.friends[[2]uuid.UUID{u1, u2}] = models.Friend{User1: u1, User2: u2, Status: "accepted", CreatedAt: time.Now()}
}

func cloneIDs(ids []uuid.UUID) []uuid.UUID {
	return append([]uuid.UUID{}, ids...)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------
// Users
// ---------------------------------------------------------------

type UserStore struct{ db *DB }

func (s *UserStore) Create(_ context.Context, username, email, passwordHash string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			return nil, repository.ErrConflict
		}
	}
	u := models.User{ID: uuid.New(), Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	s.db.users[u.ID] = u
	return &u, nil
}

func (s *UserStore) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) ExistingIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.db.users[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *UserStore) Search(_ context.Context, query string, limit int) ([]models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	q := strings.ToLower(query)
	out := make([]models.User, 0)
	for _, u := range s.db.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------
// Friends and friend requests
// ---------------------------------------------------------------

type FriendStore struct{ db *DB }

func (s *FriendStore) FindEdge(_ context.Context, a, b uuid.UUID) (*models.Friend, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u1, u2 := models.CanonicalPair(a, b)
	f, ok := s.db.friends[[2]uuid.UUID{u1, u2}]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *FriendStore) ListFriends(_ context.Context, userID uuid.UUID) ([]models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]models.User, 0)
	for _, f := range s.db.friends {
		if f.User1 != userID && f.User2 != userID {
			continue
		}
		if u, ok := s.db.users[f.Other(userID)]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

type FriendRequestStore struct{ db *DB }

func (s *FriendRequestStore) Create(_ context.Context, fromID, toID uuid.UUID) (*models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, fr := range s.db.friendRequests {
		if fr.FromID == fromID && fr.ToID == toID {
			return nil, repository.ErrConflict
		}
	}
	now := time.Now()
	fr := models.FriendRequest{ID: uuid.New(), FromID: fromID, ToID: toID, Status: models.FriendRequestPending, CreatedAt: now, UpdatedAt: now}
	s.db.friendRequests[fr.ID] = fr
	return &fr, nil
}

func (s *FriendRequestStore) GetByID(_ context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	fr, ok := s.db.friendRequests[requestID]
	if !ok {
		return nil, nil
	}
	return &fr, nil
}

func (s *FriendRequestStore) resolveLocked(requestID uuid.UUID, status models.FriendRequestStatus) *models.FriendRequest {
	fr, ok := s.db.friendRequests[requestID]
	if !ok || fr.Status != models.FriendRequestPending {
		return nil
	}
	fr.Status = status
	fr.UpdatedAt = time.Now()
	s.db.friendRequests[requestID] = fr
	return &fr
}

func (s *FriendRequestStore) Resolve(_ context.Context, requestID uuid.UUID, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.resolveLocked(requestID, status), nil
}

func (s *FriendRequestStore) Accept(_ context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	fr := s.resolveLocked(requestID, models.FriendRequestAccepted)
	if fr == nil {
		return nil, nil
	}
	u1, u2 := models.CanonicalPair(fr.FromID, fr.ToID)
	key := [2]uuid.UUID{u1, u2}
	if _, exists := s.db.friends[key]; !exists {
		s.db.friends[key] = models.Friend{User1: u1, User2: u2, Status: "accepted", CreatedAt: time.Now()}
	}
	return fr, nil
}

func (s *FriendRequestStore) ListPending(_ context.Context, userID uuid.UUID, incoming bool) ([]models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]models.FriendRequest, 0)
	for _, fr := range s.db.friendRequests {
		if fr.Status != models.FriendRequestPending {
			continue
		}
		if (incoming && fr.ToID == userID) || (!incoming && fr.FromID == userID) {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------

type RoomStore struct{ db *DB }

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Members = cloneIDs(r.Members)
	c.JoinRequests = append([]models.JoinRequest(nil), r.JoinRequests...)
	return &c
}

func (s *RoomStore) Create(_ context.Context, room *models.Room) (*models.Room, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r := cloneRoom(room)
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.JoinRequests = nil
	var members []uuid.UUID
	for _, m := range r.Members {
		if !containsID(members, m) {
			members = append(members, m)
		}
	}
	r.Members = members
	s.db.rooms[r.ID] = r
	return cloneRoom(r), nil
}

func (s *RoomStore) GetByID(_ context.Context, roomID uuid.UUID) (*models.Room, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return cloneRoom(r), nil
}

func (s *RoomStore) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	return ok && r.HasMember(userID), nil
}

func addMemberLocked(r *models.Room, userID uuid.UUID, maxMembers int) (bool, error) {
	if r.HasMember(userID) {
		return false, nil
	}
	if len(r.Members) >= maxMembers {
		return false, repository.ErrRoomFull
	}
	r.Members = append(r.Members, userID)
	return true, nil
}

func (s *RoomStore) AddMember(_ context.Context, roomID, userID uuid.UUID, maxMembers int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	if !ok {
		return false, nil
	}
	return addMemberLocked(r, userID, maxMembers)
}

func (s *RoomStore) RemoveMember(_ context.Context, roomID, userID uuid.UUID) (repository.LeaveResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var res repository.LeaveResult
	r, ok := s.db.rooms[roomID]
	if !ok || !r.HasMember(userID) {
		return res, nil
	}
	res.Left = true
	kept := r.Members[:0]
	for _, m := range r.Members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	r.Members = kept

	if r.IsPrivate || len(r.Members) == 0 {
		delete(s.db.rooms, roomID)
		res.RoomDeleted = true
		return res, nil
	}
	if r.CreatedBy == userID {
		r.CreatedBy = r.Members[0]
		res.NewOwner = r.CreatedBy
	}
	return res, nil
}

func (s *RoomStore) CreateJoinRequest(_ context.Context, roomID, userID uuid.UUID) (*models.JoinRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	if !ok {
		return nil, errors.New("create join request: room not found")
	}
	for i, jr := range r.JoinRequests {
		if jr.UserID != userID {
			continue
		}
		if jr.Status == models.JoinRequestPending {
			return nil, repository.ErrConflict
		}
		r.JoinRequests[i].Status = models.JoinRequestPending
		r.JoinRequests[i].CreatedAt = time.Now()
		out := r.JoinRequests[i]
		return &out, nil
	}
	jr := models.JoinRequest{ID: uuid.New(), RoomID: roomID, UserID: userID, Status: models.JoinRequestPending, CreatedAt: time.Now()}
	r.JoinRequests = append(r.JoinRequests, jr)
	return &jr, nil
}

func (s *RoomStore) ResolveJoinRequest(_ context.Context, roomID, requestID uuid.UUID, status models.JoinRequestStatus, maxMembers int) (*models.JoinRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	if !ok {
		return nil, nil
	}
	for i, jr := range r.JoinRequests {
		if jr.ID != requestID || jr.Status != models.JoinRequestPending {
			continue
		}
		if status == models.JoinRequestApproved {
			if _, err := addMemberLocked(r, jr.UserID, maxMembers); err != nil {
				return nil, err
			}
		}
		r.JoinRequests[i].Status = status
		out := r.JoinRequests[i]
		return &out, nil
	}
	return nil, nil
}

func (s *RoomStore) list(match func(*models.Room) bool) []models.Room {
	out := make([]models.Room, 0)
	for _, r := range s.db.rooms {
		if match(r) {
			c := cloneRoom(r)
			c.JoinRequests = nil
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *RoomStore) ListPublic(_ context.Context) ([]models.Room, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.list(func(r *models.Room) bool { return r.IsPublic }), nil
}

func (s *RoomStore) ListForUser(_ context.Context, userID uuid.UUID) ([]models.Room, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.list(func(r *models.Room) bool { return r.HasMember(userID) }), nil
}

// ---------------------------------------------------------------
// Messages
// ---------------------------------------------------------------

type MessageStore struct{ db *DB }

func cloneMessage(m models.Message) models.Message {
	m.ReadBy = cloneIDs(m.ReadBy)
	m.DeletedBy = cloneIDs(m.DeletedBy)
	return m
}

func (s *MessageStore) Create(_ context.Context, in repository.NewMessage) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failMessages != nil {
		return nil, s.db.failMessages
	}
	if (in.ReceiverID == nil) == (in.RoomID == nil) {
		return nil, errors.New("insert message: exactly one of receiver or room is required")
	}
	s.db.seq++
	msg := models.Message{
		ID:         uuid.New(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		RoomID:     in.RoomID,
		Content:    in.Content,
		CreatedAt:  time.Now().UTC(),
		DeletedBy:  []uuid.UUID{},
		ReadBy:     []uuid.UUID{},
	}
	s.db.messages[msg.ID] = &messageRec{msg: msg, seq: s.db.seq}
	out := cloneMessage(msg)
	return &out, nil
}

func (s *MessageStore) GetByID(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.messages[messageID]
	if !ok {
		return nil, nil
	}
	out := cloneMessage(rec.msg)
	return &out, nil
}

func (s *MessageStore) viewLocked(m models.Message) models.MessageView {
	v := models.MessageView{Message: cloneMessage(m), Sender: models.Sender{ID: m.SenderID}}
	if u, ok := s.db.users[m.SenderID]; ok {
		v.Sender.Username = u.Username
		v.Sender.AvatarURL = u.AvatarURL
	}
	return v
}

func (s *MessageStore) GetWithSender(_ context.Context, messageID uuid.UUID) (*models.MessageView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failMessages != nil {
		return nil, s.db.failMessages
	}
	rec, ok := s.db.messages[messageID]
	if !ok {
		return nil, nil
	}
	v := s.viewLocked(rec.msg)
	return &v, nil
}

func (s *MessageStore) MarkRead(_ context.Context, messageIDs []uuid.UUID, readerID uuid.UUID) ([]models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failMessages != nil {
		return nil, s.db.failMessages
	}
	marked := make([]models.Message, 0)
	seen := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := s.db.messages[id]
		if !ok || containsID(rec.msg.ReadBy, readerID) {
			continue
		}
		rec.msg.ReadBy = append(rec.msg.ReadBy, readerID)
		marked = append(marked, cloneMessage(rec.msg))
	}
	return marked, nil
}

func (s *MessageStore) Recall(_ context.Context, messageID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failMessages != nil {
		return false, s.db.failMessages
	}
	rec, ok := s.db.messages[messageID]
	if !ok || rec.msg.Recalled || rec.msg.ReadByOthers() {
		return false, nil
	}
	rec.msg.Recalled = true
	return true, nil
}

func (s *MessageStore) AddDeletedBy(_ context.Context, messageID, userID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failMessages != nil {
		return false, s.db.failMessages
	}
	rec, ok := s.db.messages[messageID]
	if !ok || containsID(rec.msg.DeletedBy, userID) {
		return false, nil
	}
	rec.msg.DeletedBy = append(rec.msg.DeletedBy, userID)
	return true, nil
}

func (s *MessageStore) DeleteBySender(_ context.Context, messageID, senderID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.messages[messageID]
	if !ok || rec.msg.SenderID != senderID {
		return false, nil
	}
	delete(s.db.messages, messageID)
	return true, nil
}

func (s *MessageStore) list(viewerID, before uuid.UUID, limit int, match func(models.Message) bool) []models.MessageView {
	var cutoff int64 = -1
	if before != uuid.Nil {
		if rec, ok := s.db.messages[before]; ok {
			cutoff = rec.seq
		}
	}
	recs := make([]*messageRec, 0)
	for _, rec := range s.db.messages {
		if !match(rec.msg) || rec.msg.DeletedFor(viewerID) {
			continue
		}
		if cutoff >= 0 && rec.seq >= cutoff {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]models.MessageView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.viewLocked(rec.msg).Redacted())
	}
	return out
}

func (s *MessageStore) ListRoom(_ context.Context, roomID, viewerID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.list(viewerID, before, limit, func(m models.Message) bool {
		return m.RoomID != nil && *m.RoomID == roomID
	}), nil
}

func (s *MessageStore) ListPrivate(_ context.Context, a, b, viewerID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.list(viewerID, before, limit, func(m models.Message) bool {
		if m.ReceiverID == nil {
			return false
		}
		r := *m.ReceiverID
		return (m.SenderID == a && r == b) || (m.SenderID == b && r == a)
	}), nil
}

var (
	_ repository.UserRepository          = (*UserStore)(nil)
	_ repository.FriendRepository        = (*FriendStore)(nil)
	_ repository.FriendRequestRepository = (*FriendRequestStore)(nil)
	_ repository.RoomRepository          = (*RoomStore)(nil)
	_ repository.MessageRepository       = (*MessageStore)(nil)
)
