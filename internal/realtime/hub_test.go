package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echochat/internal/protocol"
	"go.uber.org/zap"
)

func testClient(h *Hub, userID uuid.UUID) *Client {
	c := newClient(h, nil, userID, "u", nil, zap.NewNop())
	h.register(c)
	return c
}

func drain(c *Client) []protocol.Frame {
	var out []protocol.Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var f protocol.Frame
			_ = json.Unmarshal(raw, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHubEmitReachesSubscribersOnly(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	a1 := testClient(h, uuid.New())
	a2 := testClient(h, a1.userID)
	b := testClient(h, uuid.New())

	a1.Subscribe("room")
	a2.Subscribe("room")

	h.Emit(context.Background(), "room", protocol.MessageRead{MessageID: uuid.New()})

	if n := len(drain(a1)); n != 1 {
		t.Errorf("a1 got %d frames", n)
	}
	if n := len(drain(a2)); n != 1 {
		t.Errorf("a2 got %d frames", n)
	}
	if n := len(drain(b)); n != 0 {
		t.Errorf("unsubscribed client got %d frames", n)
	}
}

func TestHubEvictAndClose(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	user := uuid.New()
	a1, a2 := testClient(h, user), testClient(h, user)
	b := testClient(h, uuid.New())
	for _, c := range []*Client{a1, a2, b} {
		c.Subscribe("room")
	}

	h.EvictUser("room", user)
	if got := h.Subscribers("room"); got != 1 {
		t.Fatalf("subscribers after evict = %d, want 1", got)
	}

	h.CloseChannel("room")
	if got := h.Subscribers("room"); got != 0 {
		t.Fatalf("subscribers after close = %d", got)
	}
	if len(b.channels) != 0 {
		t.Error("client still tracks a closed channel")
	}
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	c := testClient(h, uuid.New())
	c.Subscribe("x")
	c.Subscribe("y")

	h.unregister(c)
	h.unregister(c)

	if h.Subscribers("x") != 0 || h.Subscribers("y") != 0 || h.Connections() != 0 {
		t.Error("unregister left state behind")
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue not closed")
	}

	// Late subscribe and emit after unregister must not panic.
	c.Subscribe("x")
	h.Emit(context.Background(), "x", protocol.OnlineUsers{})
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	c := testClient(h, uuid.New())
	c.Subscribe("busy")
	for i := 0; i < sendQueueSize+10; i++ {
		h.Emit(context.Background(), "busy", protocol.OnlineUsers{})
	}
	if n := len(drain(c)); n != sendQueueSize {
		t.Errorf("queued %d frames, want %d", n, sendQueueSize)
	}
}

type fakeBroker struct {
	mu        sync.Mutex
	published []string
	fail      error
	// subscribeErr makes Subscribe fail before confirming.
	subscribeErr error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return b.fail
}

func (b *fakeBroker) Subscribe(ctx context.Context, ready func(), _ func(string, []byte)) error {
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	ready()
	<-ctx.Done()
	return nil
}

// runHub starts h.Run and waits until the subscription is confirmed.
func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for !h.Subscribed() {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubBroker(t *testing.T) {
	broker := &fakeBroker{}
	h := NewHub(broker, zap.NewNop())
	runHub(t, h)
	c := testClient(h, uuid.New())
	c.Subscribe("room")

	h.Emit(context.Background(), "room", protocol.OnlineUsers{})
	if len(broker.published) != 1 {
		t.Fatalf("published = %v", broker.published)
	}
	if n := len(drain(c)); n != 0 {
		t.Errorf("local delivery bypassed the broker: %d frames", n)
	}

	// Frames coming back from the broker reach local subscribers.
	h.deliver("room", []byte(`{"type":"onlineUsers"}`))
	if n := len(drain(c)); n != 1 {
		t.Errorf("delivered %d frames", n)
	}

	broker.fail = errors.New("redis down")
	h.Emit(context.Background(), "room", protocol.OnlineUsers{})
	if n := len(drain(c)); n != 1 {
		t.Errorf("fallback delivered %d frames, want 1", n)
	}
}

func TestHubDeliversLocallyUntilSubscribed(t *testing.T) {
	broker := &fakeBroker{}
	h := NewHub(broker, zap.NewNop())
	c := testClient(h, uuid.New())
	c.Subscribe("room")

	if h.Subscribed() {
		t.Fatal("hub reports a subscription before Run")
	}
	h.Emit(context.Background(), "room", protocol.OnlineUsers{})
	if len(broker.published) != 1 {
		t.Errorf("published = %v, other processes must still see the frame", broker.published)
	}
	if n := len(drain(c)); n != 1 {
		t.Errorf("delivered %d frames before subscription, want 1", n)
	}
}

func TestHubSubscribeFailure(t *testing.T) {
	broker := &fakeBroker{subscribeErr: errors.New("psubscribe: connection reset")}
	h := NewHub(broker, zap.NewNop())
	c := testClient(h, uuid.New())
	c.Subscribe("room")

	if err := h.Run(context.Background()); err == nil {
		t.Fatal("Run must report a failed subscription")
	}
	if h.Subscribed() {
		t.Fatal("hub reports a subscription after Run failed")
	}

	h.Emit(context.Background(), "room", protocol.OnlineUsers{})
	if n := len(drain(c)); n != 1 {
		t.Errorf("delivered %d frames after subscription failure, want 1", n)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	allowed, all := normalizeOrigins([]string{" HTTP://Example.com ", "nonsense", "*"})
	if !all {
		t.Error("wildcard not detected")
	}
	if !allowed["http://example.com"] || len(allowed) != 1 {
		t.Errorf("allowed = %v", allowed)
	}
}
