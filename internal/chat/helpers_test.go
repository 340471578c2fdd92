package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"github.com/lalith-99/echochat/internal/repository/memory"
	"go.uber.org/zap"
)

type emitted struct {
	channel string
	event   protocol.Outbound
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, channel string, ev protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{channel, ev})
}

func (r *recordingEmitter) on(channel string) []protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Outbound
	for _, e := range r.events {
		if e.channel == channel {
			out = append(out, e.event)
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	db      *memory.DB
	stores  repository.Stores
	emitter *recordingEmitter
	logger  *zap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	return &fixture{db: db, stores: db.Stores(), emitter: &recordingEmitter{}, logger: zap.NewNop()}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.stores.Users.Create(context.Background(), name, name+"@example.com", "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *fixture) room(t *testing.T, owner uuid.UUID, members ...uuid.UUID) *models.Room {
	t.Helper()
	r, err := f.stores.Rooms.Create(context.Background(), &models.Room{
		Name: "room", CreatedBy: owner, IsPublic: true,
		Members: append([]uuid.UUID{owner}, members...),
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func (f *fixture) engine() *Engine {
	return NewEngine(f.stores.Messages, f.stores.Friends, f.stores.Rooms, f.emitter, 100, f.logger)
}

func (f *fixture) manager(opts LifecycleOptions) *Manager {
	return NewManager(f.stores.Messages, f.stores.Rooms, f.emitter, opts, f.logger)
}

type fakeSub struct {
	id       uuid.UUID
	channels map[string]bool
}

func newFakeSub(id uuid.UUID) *fakeSub { return &fakeSub{id: id, channels: map[string]bool{}} }

func (s *fakeSub) UserID() uuid.UUID          { return s.id }
func (s *fakeSub) Subscribe(channel string)   { s.channels[channel] = true }
func (s *fakeSub) Unsubscribe(channel string) { delete(s.channels, channel) }
