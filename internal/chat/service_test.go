package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
	"github.com/AbdelrhmanGamal26/chatlink/internal/notify"
	"github.com/AbdelrhmanGamal26/chatlink/internal/realtime"
	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
)

type fakeAPI struct {
	conversations []api.Conversation
	messages      map[string][]api.Message

	createErr error
	sendErr   error

	sentContent []string
}

func (f *fakeAPI) Conversations(context.Context) ([]api.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, recipientEmail string) (*api.Conversation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, c := range f.conversations {
		for _, m := range c.Members {
			if m.Email == recipientEmail {
				conv := c
				return &conv, nil
			}
		}
	}
	conv := api.Conversation{
		ID:     "c-" + recipientEmail,
		RoomID: "r-" + recipientEmail,
		Members: []api.User{
			{ID: "self", Email: "self@example.com"},
			{ID: "peer", Name: "Peer", Email: recipientEmail},
		},
	}
	return &conv, nil
}

func (f *fakeAPI) Messages(_ context.Context, conversationID string) ([]api.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, conversationID, content, senderID string) (*api.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sentContent = append(f.sentContent, content)
	return &api.Message{
		ID:             "m-" + content,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}, nil
}

type fakeChannel struct {
	mu              sync.Mutex
	joined          []string
	left            []string
	userRooms       []string
	emitted         []realtime.RoomMessage
	joinErr         error
	roomHandler     func(realtime.RoomMessage)
	newConvHandler  func(realtime.NewConversation)
	roomUnsubCalled bool
}

func (f *fakeChannel) JoinRoom(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeChannel) LeaveRoom(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeChannel) JoinUserRoom(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRooms = append(f.userRooms, userID)
	return nil
}

func (f *fakeChannel) SendRoomMessage(msg realtime.RoomMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, msg)
	return nil
}

func (f *fakeChannel) OnRoomMessage(fn func(realtime.RoomMessage)) func() {
	f.roomHandler = fn
	return func() { f.roomUnsubCalled = true }
}

func (f *fakeChannel) OnNewConversation(fn func(realtime.NewConversation)) func() {
	f.newConvHandler = fn
	return func() {}
}

func (f *fakeChannel) pushRoomMessage(msg realtime.RoomMessage) {
	f.roomHandler(msg)
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, restAPI *fakeAPI, channel *fakeChannel) (*Service, *session.Store, *notify.Notifier) {
	t.Helper()
	sess := session.NewStore(nil)
	sess.Login(session.User{ID: "self", Name: "Self", Email: "self@example.com"}, "token")

	notifier := notify.NewNotifier()
	store := NewStore(time.Minute)
	svc := NewService(restAPI, channel, store, notifier, sess, quietLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, sess, notifier
}

func expectNotice(t *testing.T, notices <-chan notify.Notice, wantText string) {
	t.Helper()
	select {
	case n := <-notices:
		if n.Text != wantText {
			t.Errorf("expected notice %q, got %q", wantText, n.Text)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for notice %q", wantText)
	}
}

func TestStartJoinsUserRoom(t *testing.T) {
	channel := &fakeChannel{}
	newTestService(t, &fakeAPI{messages: map[string][]api.Message{}}, channel)

	if len(channel.userRooms) != 1 || channel.userRooms[0] != "self" {
		t.Errorf("expected joinUserRoom for self, got %v", channel.userRooms)
	}
	if channel.roomHandler == nil || channel.newConvHandler == nil {
		t.Error("socket handlers not registered")
	}
}

func TestSendAppliesCachePatchesAndEmits(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	msg, err := svc.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	items, _ := svc.store.Messages(conv.ID)
	if len(items) != 1 || items[0].ID != msg.ID {
		t.Fatalf("message not applied to history: %+v", items)
	}
	conversations, _ := svc.store.Conversations()
	if conversations[0].LastMessage.Content != "hello" {
		t.Errorf("preview not patched: %+v", conversations[0].LastMessage)
	}
	if len(channel.emitted) != 1 || channel.emitted[0].RoomID != conv.RoomID || channel.emitted[0].SenderID != "self" {
		t.Errorf("unexpected room emission: %+v", channel.emitted)
	}
	if len(restAPI.sentContent) != 1 || restAPI.sentContent[0] != "hello" {
		t.Errorf("expected the composed text to be posted, got %v", restAPI.sentContent)
	}
}

func TestSendFailureAppliesNothing(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}, sendErr: errors.New("boom")}
	channel := &fakeChannel{}
	svc, _, notifier := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	notices, cancel := notifier.Subscribe()
	defer cancel()

	if _, err := svc.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected Send to fail")
	}

	expectNotice(t, notices, "Failed to send message.")
	if items, _ := svc.store.Messages(conv.ID); len(items) != 0 {
		t.Errorf("failed send must not touch the cache, got %d messages", len(items))
	}
	if len(channel.emitted) != 0 {
		t.Errorf("failed send must not emit, got %+v", channel.emitted)
	}
}

func TestSendWithoutActiveConversation(t *testing.T) {
	svc, _, notifier := newTestService(t, &fakeAPI{messages: map[string][]api.Message{}}, &fakeChannel{})
	notices, cancel := notifier.Subscribe()
	defer cancel()

	if _, err := svc.Send(context.Background(), "hello"); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("expected ErrNoActiveConversation, got %v", err)
	}
	expectNotice(t, notices, "Please select a conversation first.")
}

func TestOwnEchoIgnored(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	msg, err := svc.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The server relays the sender's own message back on the room.
	channel.pushRoomMessage(realtime.RoomMessage{RoomID: conv.RoomID, Msg: *msg, SenderID: "self"})

	if items, _ := svc.store.Messages(conv.ID); len(items) != 1 {
		t.Errorf("own echo must not double-insert, got %d messages", len(items))
	}
}

func TestRemoteMessageAppended(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	incoming := api.Message{ID: "m-remote", ConversationID: conv.ID, SenderID: "peer", Content: "hi back"}
	channel.pushRoomMessage(realtime.RoomMessage{RoomID: conv.RoomID, Msg: incoming, SenderID: "peer"})

	items, _ := svc.store.Messages(conv.ID)
	if len(items) != 1 || items[0].ID != "m-remote" {
		t.Fatalf("remote message not applied: %+v", items)
	}
}

func TestWrongRoomIgnored(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stray := api.Message{ID: "m-stray", ConversationID: conv.ID, SenderID: "peer", Content: "??"}
	channel.pushRoomMessage(realtime.RoomMessage{RoomID: "some-other-room", Msg: stray, SenderID: "peer"})

	if items, _ := svc.store.Messages(conv.ID); len(items) != 0 {
		t.Errorf("message for another room must be ignored, got %+v", items)
	}
}

func TestOpenSwitchesRooms(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	first, err := svc.Open(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	second, err := svc.Open(context.Background(), "b@example.com")
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	if len(channel.joined) != 2 || channel.joined[0] != first.RoomID || channel.joined[1] != second.RoomID {
		t.Errorf("unexpected join sequence: %v", channel.joined)
	}
	if len(channel.left) != 1 || channel.left[0] != first.RoomID {
		t.Errorf("expected to leave the first room, got %v", channel.left)
	}
	if active := svc.Active(); active == nil || active.ID != second.ID {
		t.Errorf("active conversation not switched: %+v", active)
	}
}

func TestRepeatedOpenDoesNotDuplicateConversation(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	if _, err := svc.Open(context.Background(), "peer@example.com"); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := svc.Open(context.Background(), "peer@example.com"); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	conversations, _ := svc.store.Conversations()
	if len(conversations) != 1 {
		t.Errorf("expected 1 conversation after repeated Open, got %d", len(conversations))
	}
}

func TestOpenJoinFailureKeepsActiveConversation(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	first, err := svc.Open(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}

	channel.joinErr = errors.New("socket stalled")
	if _, err := svc.Open(context.Background(), "b@example.com"); err == nil {
		t.Fatal("expected Open to fail when the join fails")
	}

	if active := svc.Active(); active == nil || active.ID != first.ID {
		t.Errorf("failed join must keep the previous conversation active, got %+v", active)
	}
	if len(channel.left) != 0 {
		t.Errorf("failed join must not leave the previous room, got %v", channel.left)
	}

	// Closing still leaves the room that is actually joined, exactly once.
	svc.Close()
	if len(channel.left) != 1 || channel.left[0] != first.RoomID {
		t.Errorf("expected a single leave for %s, got %v", first.RoomID, channel.left)
	}
}

func TestWatchUnsubscribeClosesChannel(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAPI{messages: map[string][]api.Message{}}, &fakeChannel{})

	ticks, cancel := svc.Watch()
	cancel()
	cancel()

	select {
	case _, open := <-ticks:
		if open {
			t.Error("expected the watch channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after unsubscribe")
	}
}

func TestOpenFailureSurfacesServerMessage(t *testing.T) {
	restAPI := &fakeAPI{
		messages:  map[string][]api.Message{},
		createErr: &api.APIError{Status: 404, Message: "No user found with that email address"},
	}
	svc, _, notifier := newTestService(t, restAPI, &fakeChannel{})
	notices, cancel := notifier.Subscribe()
	defer cancel()

	if _, err := svc.Open(context.Background(), "nobody@example.com"); err == nil {
		t.Fatal("expected Open to fail")
	}
	expectNotice(t, notices, "No user found with that email address")
}

func TestNewConversationPrependedWithNotice(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, notifier := newTestService(t, restAPI, channel)
	notices, cancel := notifier.Subscribe()
	defer cancel()

	event := realtime.NewConversation{
		Conversation: api.Conversation{
			ID:     "c-new",
			RoomID: "r-new",
			Members: []api.User{
				{ID: "self", Name: "Self"},
				{ID: "peer", Name: "Peer"},
			},
		},
		Message: api.Message{ID: "m-first", ConversationID: "c-new", SenderID: "peer", Content: "hi"},
	}
	channel.newConvHandler(event)
	channel.newConvHandler(event)

	conversations, _ := svc.store.Conversations()
	if len(conversations) != 1 || conversations[0].ID != "c-new" {
		t.Fatalf("expected one prepended conversation, got %+v", conversations)
	}
	if conversations[0].LastMessage.Content != "hi" {
		t.Errorf("preview not synthesized: %+v", conversations[0].LastMessage)
	}
	expectNotice(t, notices, "New message from Peer")
}

func TestCloseLeavesRoomAndClearsActive(t *testing.T) {
	restAPI := &fakeAPI{messages: map[string][]api.Message{}}
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, restAPI, channel)

	conv, err := svc.Open(context.Background(), "peer@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	svc.Close()
	if svc.Active() != nil {
		t.Error("active conversation not cleared")
	}
	if len(channel.left) != 1 || channel.left[0] != conv.RoomID {
		t.Errorf("expected to leave %s, got %v", conv.RoomID, channel.left)
	}

	// Idempotent: a second Close leaves nothing further.
	svc.Close()
	if len(channel.left) != 1 {
		t.Errorf("second Close must be a no-op, got %v", channel.left)
	}
}

func TestStopUnsubscribesHandlers(t *testing.T) {
	channel := &fakeChannel{}
	svc, _, _ := newTestService(t, &fakeAPI{messages: map[string][]api.Message{}}, channel)

	svc.Stop()
	if !channel.roomUnsubCalled {
		t.Error("room handler not unsubscribed on Stop")
	}
}
