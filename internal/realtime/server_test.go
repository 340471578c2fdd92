package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echochat/internal/auth"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/presence"
	"github.com/lalith-99/echochat/internal/protocol"
	"github.com/lalith-99/echochat/internal/repository"
	"github.com/lalith-99/echochat/internal/repository/memory"
	"go.uber.org/zap"
)

const testSecret = "realtime-secret"

type testEnv struct {
	db       *memory.DB
	stores   repository.Stores
	hub      *Hub
	registry *presence.Registry
	url      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	db := memory.New()
	stores := db.Stores()

	hub := NewHub(nil, logger)
	registry := presence.NewRegistry(nil, logger)
	gate := chat.NewGatekeeper(stores.Rooms, logger)
	engine := chat.NewEngine(stores.Messages, stores.Friends, stores.Rooms, hub, 1000, logger)
	manager := chat.NewManager(stores.Messages, stores.Rooms, hub, chat.LifecycleOptions{SenderOnlyRecall: true}, logger)
	srv := NewServer(hub, registry, auth.NewAuthenticator(testSecret), NewDispatcher(gate, engine, manager, logger),
		Options{AllowedOrigins: []string{"http://chat.example"}, MaxFrameBytes: 1 << 16}, logger)

	r := gin.New()
	r.GET("/ws", srv.ServeWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Shutdown()
		ts.Close()
	})

	return &testEnv{
		db:       db,
		stores:   stores,
		hub:      hub,
		registry: registry,
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.stores.Users.Create(context.Background(), name, name+"@example.com", "x")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := auth.GenerateToken(u.ID, u.Username, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// connect dials as u and waits until the server has registered the
// connection, which it signals with an onlineUsers frame listing u.
func (e *testEnv) connect(t *testing.T, u *models.User) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.url+"?token="+token(t, u), nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })

	for {
		f := readFrame(t, conn)
		if f.Type != protocol.KindOnlineUsers {
			continue
		}
		var ou protocol.OnlineUsers
		_ = json.Unmarshal(f.Data, &ou)
		for _, id := range ou.Users {
			if id == u.ID {
				return conn
			}
		}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f protocol.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return f
}

// readUntil returns the first frame of kind and every frame skipped on
// the way.
func readUntil(t *testing.T, conn *websocket.Conn, kind protocol.Kind) (protocol.Frame, []protocol.Frame) {
	t.Helper()
	var skipped []protocol.Frame
	for {
		f := readFrame(t, conn)
		if f.Type == kind {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

func send(t *testing.T, conn *websocket.Conn, in protocol.Inbound, ackID string) {
	t.Helper()
	raw, err := protocol.EncodeInbound(in, ackID)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestServeWSRefusesBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url+"?token=bogus", nil)
	if err == nil {
		t.Fatal("dial with a bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v", resp)
	}

	u := env.user(t, "alice")
	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial(env.url+"?token="+token(t, u), hdr)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: err=%v resp=%v", err, resp)
	}

	hdr.Set("Origin", "http://chat.example")
	conn, _, err := websocket.DefaultDialer.Dial(env.url+"?token="+token(t, u), hdr)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestPrivateMessageAckAndDelivery(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.user(t, "alice"), env.user(t, "bob")
	env.db.AddFriends(a.ID, b.ID)
	ca, cb := env.connect(t, a), env.connect(t, b)

	send(t, ca, protocol.PrivateMessage{ReceiverID: b.ID, Content: "hello", TempID: "x1"}, "1")

	ack, _ := readUntil(t, ca, protocol.KindAck)
	if ack.AckID != "1" || ack.Error != nil {
		t.Fatalf("ack = %+v", ack)
	}
	var acked protocol.DeliveredMessage
	if err := json.Unmarshal(ack.Data, &acked); err != nil {
		t.Fatal(err)
	}
	if acked.TempID != "x1" || acked.Content != "hello" || acked.Sender.ID != a.ID {
		t.Errorf("acked = %+v", acked)
	}

	for _, conn := range []*websocket.Conn{ca, cb} {
		f, _ := readUntil(t, conn, protocol.KindPrivateMessage)
		var got protocol.DeliveredMessage
		if err := json.Unmarshal(f.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != acked.ID || got.TempID != "x1" || got.Sender.Username != "alice" {
			t.Errorf("delivered = %+v", got)
		}
	}
}

func TestPrivateMessageToStrangerIsRefused(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.user(t, "alice"), env.user(t, "bob")
	ca := env.connect(t, a)

	send(t, ca, protocol.PrivateMessage{ReceiverID: b.ID, Content: "hi", TempID: "p1"}, "9")
	ack, _ := readUntil(t, ca, protocol.KindAck)
	if ack.Error == nil || ack.Error.Code != "forbidden" || ack.Error.Message != "You are not friends with this user" {
		t.Fatalf("ack = %+v", ack)
	}
	if env.db.MessageCount() != 0 {
		t.Error("a message was stored")
	}

	send(t, ca, protocol.PrivateMessage{ReceiverID: b.ID, Content: "hi", TempID: "p2"}, "")
	f, _ := readUntil(t, ca, protocol.KindError)
	var ev protocol.ErrorEvent
	_ = json.Unmarshal(f.Data, &ev)
	if ev.Request != protocol.KindPrivateMessage || ev.TempID != "p2" || ev.Code != "forbidden" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestRoomJoinAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	owner, member, outsider := env.user(t, "owner"), env.user(t, "member"), env.user(t, "outsider")
	room, err := env.stores.Rooms.Create(context.Background(), &models.Room{
		Name: "general", CreatedBy: owner.ID, Members: []uuid.UUID{owner.ID, member.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	co, cm, cx := env.connect(t, owner), env.connect(t, member), env.connect(t, outsider)

	send(t, co, protocol.JoinRoom{RoomID: room.ID}, "j1")
	if ack, _ := readUntil(t, co, protocol.KindAck); ack.Error != nil {
		t.Fatalf("owner join: %+v", ack.Error)
	}

	send(t, cx, protocol.JoinRoom{RoomID: room.ID}, "")
	f, _ := readUntil(t, cx, protocol.KindError)
	var refused protocol.ErrorEvent
	_ = json.Unmarshal(f.Data, &refused)
	if refused.Code != "forbidden" || refused.RoomID != room.ID.String() || refused.Request != protocol.KindJoinRoom {
		t.Errorf("refusal = %+v", refused)
	}
	if env.hub.Subscribers(protocol.RoomChannel(room.ID)) != 1 {
		t.Errorf("subscribers = %d, want 1", env.hub.Subscribers(protocol.RoomChannel(room.ID)))
	}

	// member never joined the channel: the send is stored and reaches the
	// owner, but not member's own connection.
	send(t, cm, protocol.RoomMessage{RoomID: room.ID, Content: "hey", TempID: "t1"}, "")
	msg, _ := readUntil(t, co, protocol.KindRoomMessage)
	var got protocol.DeliveredMessage
	_ = json.Unmarshal(msg.Data, &got)
	if got.TempID != "t1" || got.Content != "hey" || got.Sender.ID != member.ID {
		t.Errorf("broadcast = %+v", got)
	}
	if env.db.MessageCount() != 1 {
		t.Errorf("stored %d messages", env.db.MessageCount())
	}

	send(t, cm, protocol.MarkRead{MessageIDs: []uuid.UUID{got.ID}}, "after")
	_, skipped := readUntil(t, cm, protocol.KindAck)
	for _, f := range skipped {
		if f.Type == protocol.KindRoomMessage {
			t.Error("unsubscribed member received the room broadcast")
		}
	}

	send(t, cx, protocol.RoomMessage{RoomID: room.ID, Content: "let me in", TempID: "t2"}, "")
	f, _ = readUntil(t, cx, protocol.KindError)
	var sendRefused protocol.ErrorEvent
	_ = json.Unmarshal(f.Data, &sendRefused)
	if sendRefused.TempID != "t2" || sendRefused.Code != "forbidden" {
		t.Errorf("send refusal = %+v", sendRefused)
	}
}

func TestMalformedFrame(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, env.user(t, "alice"))

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","ackId":"z","data":{}}`)); err != nil {
		t.Fatal(err)
	}
	ack, _ := readUntil(t, c, protocol.KindAck)
	if ack.AckID != "z" || ack.Error == nil || ack.Error.Code != "validation" {
		t.Errorf("ack = %+v", ack)
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	f, _ := readUntil(t, c, protocol.KindError)
	var ev protocol.ErrorEvent
	_ = json.Unmarshal(f.Data, &ev)
	if ev.Code != "validation" {
		t.Errorf("event = %+v", ev)
	}
}

func TestPresenceAcrossTabs(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.user(t, "alice"), env.user(t, "bob")
	watcher := env.connect(t, b)

	tab1 := env.connect(t, a)
	tab2 := env.connect(t, a)
	if got := env.registry.Connections(a.ID); got != 2 {
		t.Fatalf("connections = %d", got)
	}

	tab1.Close()
	eventually(t, func() bool { return env.registry.Connections(a.ID) == 1 })
	if !env.registry.IsOnline(a.ID) {
		t.Fatal("alice went offline with a tab still open")
	}

	tab2.Close()
	eventually(t, func() bool { return !env.registry.IsOnline(a.ID) })

	for {
		f, _ := readUntil(t, watcher, protocol.KindOnlineUsers)
		var ou protocol.OnlineUsers
		_ = json.Unmarshal(f.Data, &ou)
		if len(ou.Users) == 1 && ou.Users[0] == b.ID {
			break
		}
	}
}
