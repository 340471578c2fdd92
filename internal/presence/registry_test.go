package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type recordingMirror struct {
	mu      sync.Mutex
	online  []uuid.UUID
	offline []uuid.UUID
}

func (m *recordingMirror) Online(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, id)
	return nil
}

func (m *recordingMirror) Offline(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, id)
	return nil
}

func TestRegistryMultipleConnections(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	r := NewRegistry(mirror, zap.NewNop())
	user := uuid.New()
	tab1, tab2 := uuid.New(), uuid.New()

	if !r.Add(ctx, user, tab1) {
		t.Fatal("first connection should bring the user online")
	}
	if r.Add(ctx, user, tab2) {
		t.Fatal("second connection must not report a new online transition")
	}
	if r.Add(ctx, user, tab2) {
		t.Fatal("re-adding a connection must be a no-op")
	}
	if got := r.Connections(user); got != 2 {
		t.Fatalf("Connections = %d, want 2", got)
	}

	if _, offline, ok := r.Remove(ctx, tab1); !ok || offline {
		t.Fatalf("closing one tab: offline=%v ok=%v", offline, ok)
	}
	if !r.IsOnline(user) {
		t.Fatal("user must stay online while another connection is alive")
	}

	gotUser, offline, ok := r.Remove(ctx, tab2)
	if !ok || !offline || gotUser != user {
		t.Fatalf("closing last tab: user=%v offline=%v ok=%v", gotUser, offline, ok)
	}
	if r.IsOnline(user) || len(r.Snapshot()) != 0 {
		t.Fatal("user should be offline")
	}

	if _, _, ok := r.Remove(ctx, tab2); ok {
		t.Fatal("removing an unknown connection must report ok=false")
	}

	if len(mirror.online) != 1 || len(mirror.offline) != 1 {
		t.Errorf("mirror saw online=%d offline=%d, want 1/1", len(mirror.online), len(mirror.offline))
	}
}

func TestRegistryConcurrentConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zap.NewNop())
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := uuid.New()
			u := users[i%len(users)]
			r.Add(ctx, u, conn)
			r.Remove(ctx, conn)
		}(i)
	}
	wg.Wait()

	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot after balanced add/remove = %v", snap)
	}
}

func TestSnapshotSorted(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zap.NewNop())
	for i := 0; i < 10; i++ {
		r.Add(ctx, uuid.New(), uuid.New())
	}
	snap := r.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].String() >= snap[i].String() {
			t.Fatalf("snapshot not sorted at %d", i)
		}
	}
}

func TestHeartbeatRefreshesOnlineUsers(t *testing.T) {
	mirror := &recordingMirror{}
	r := NewRegistry(mirror, zap.NewNop())
	user := uuid.New()
	r.Add(context.Background(), user, uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	r.Heartbeat(ctx, 10*time.Millisecond)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.online) < 2 {
		t.Errorf("heartbeat refreshed %d times, want at least 1 beyond Add", len(mirror.online)-1)
	}
}

func TestPublishedSnapshotsFollowChangeOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zap.NewNop())

	var published [][]uuid.UUID
	publish := func(online []uuid.UUID) { published = append(published, online) }

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := uuid.New()
			r.Connect(ctx, uuid.New(), conn, publish)
			if i%2 == 0 {
				r.Disconnect(ctx, conn, publish)
			}
		}(i)
	}
	wg.Wait()

	if len(published) != 150 {
		t.Fatalf("published %d snapshots, want 150", len(published))
	}
	last := published[len(published)-1]
	if want := r.Snapshot(); !equalIDs(last, want) {
		t.Fatalf("last published snapshot has %d users, registry has %d", len(last), len(want))
	}
}

func TestDisconnectPublishesOnlyWhenOffline(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zap.NewNop())
	user := uuid.New()
	tab1, tab2 := uuid.New(), uuid.New()

	calls := 0
	publish := func([]uuid.UUID) { calls++ }

	r.Connect(ctx, user, tab1, publish)
	r.Connect(ctx, user, tab2, publish)
	if calls != 2 {
		t.Fatalf("connect published %d times, want 2", calls)
	}
	r.Disconnect(ctx, tab1, publish)
	if calls != 2 {
		t.Fatal("closing one of two tabs must not publish")
	}
	r.Disconnect(ctx, tab2, publish)
	if calls != 3 {
		t.Fatalf("going offline published %d times, want 3", calls-2)
	}
}

func equalIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
