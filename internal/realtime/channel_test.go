package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakePeer upgrades incoming connections and exposes what the client emits
// while letting tests push frames back down.
type fakePeer struct {
	upgrader websocket.Upgrader
	frames   chan envelope
	conns    chan *websocket.Conn
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		frames: make(chan envelope, 16),
		conns:  make(chan *websocket.Conn, 1),
	}
}

func (p *fakePeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.conns <- conn
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue
		}
		p.frames <- env
	}
}

func (p *fakePeer) push(t *testing.T, event string, payload any) {
	t.Helper()
	conn := <-p.conns
	p.conns <- conn

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func (p *fakePeer) expectFrame(t *testing.T, event string) envelope {
	t.Helper()
	select {
	case env := <-p.frames:
		if env.Event != event {
			t.Fatalf("expected event %q, got %q", event, env.Event)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q frame", event)
		return envelope{}
	}
}

func connect(t *testing.T, peer *fakePeer) *Channel {
	t.Helper()
	server := httptest.NewServer(peer)
	t.Cleanup(server.Close)

	ch := NewChannel("ws"+strings.TrimPrefix(server.URL, "http"), testLogger())
	if err := ch.Connect(context.Background(), "test-token"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func TestEmitsRoomLifecycleFrames(t *testing.T) {
	peer := newFakePeer()
	ch := connect(t, peer)

	if err := ch.JoinUserRoom("u1"); err != nil {
		t.Fatalf("JoinUserRoom: %v", err)
	}
	env := peer.expectFrame(t, EventJoinUserRoom)
	var userRoom userRoomRef
	if err := json.Unmarshal(env.Data, &userRoom); err != nil || userRoom.UserID != "u1" {
		t.Errorf("unexpected joinUserRoom payload: %s", env.Data)
	}

	if err := ch.JoinRoom("room-1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	env = peer.expectFrame(t, EventJoinRoom)
	var room roomRef
	if err := json.Unmarshal(env.Data, &room); err != nil || room.RoomID != "room-1" {
		t.Errorf("unexpected joinRoom payload: %s", env.Data)
	}

	if err := ch.LeaveRoom("room-1"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	peer.expectFrame(t, EventLeaveRoom)
}

func TestSendRoomMessageCarriesMessageAndSender(t *testing.T) {
	peer := newFakePeer()
	ch := connect(t, peer)

	msg := api.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi"}
	if err := ch.SendRoomMessage(RoomMessage{RoomID: "room-1", Msg: msg, SenderID: "u1"}); err != nil {
		t.Fatalf("SendRoomMessage: %v", err)
	}

	env := peer.expectFrame(t, EventPrivateRoomChat)
	var got RoomMessage
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if got.RoomID != "room-1" || got.SenderID != "u1" || got.Msg.Content != "hi" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestTypedHandlersReceivePushedEvents(t *testing.T) {
	peer := newFakePeer()
	ch := connect(t, peer)

	received := make(chan RoomMessage, 1)
	unsubscribe := ch.OnRoomMessage(func(msg RoomMessage) {
		received <- msg
	})
	defer unsubscribe()

	payload := RoomMessage{
		RoomID:   "room-1",
		Msg:      api.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hello"},
		SenderID: "u2",
	}
	peer.push(t, EventPrivateRoomChat, payload)

	select {
	case got := <-received:
		if got.Msg.ID != "m1" || got.SenderID != "u2" {
			t.Errorf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestUnsubscribeStopsDispatch(t *testing.T) {
	peer := newFakePeer()
	ch := connect(t, peer)

	received := make(chan RoomMessage, 4)
	unsubscribe := ch.OnRoomMessage(func(msg RoomMessage) {
		received <- msg
	})

	peer.push(t, EventPrivateRoomChat, RoomMessage{RoomID: "room-1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked before unsubscribe")
	}

	unsubscribe()
	peer.push(t, EventPrivateRoomChat, RoomMessage{RoomID: "room-1"})

	select {
	case <-received:
		t.Error("handler invoked after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEmitWhenDisconnected(t *testing.T) {
	ch := NewChannel("ws://localhost:0", testLogger())
	if err := ch.JoinRoom("room-1"); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
