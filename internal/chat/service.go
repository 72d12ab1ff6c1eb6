package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
	"github.com/AbdelrhmanGamal26/chatlink/internal/notify"
	"github.com/AbdelrhmanGamal26/chatlink/internal/realtime"
	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
)

var (
	ErrNoActiveConversation = errors.New("no conversation selected")
	ErrNotLoggedIn          = errors.New("not logged in")
)

// API is the REST surface the service consumes.
type API interface {
	Conversations(ctx context.Context) ([]api.Conversation, error)
	CreateConversation(ctx context.Context, recipientEmail string) (*api.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]api.Message, error)
	SendMessage(ctx context.Context, conversationID, content, senderID string) (*api.Message, error)
}

// Channel is the realtime surface the service consumes.
type Channel interface {
	JoinRoom(roomID string) error
	LeaveRoom(roomID string) error
	JoinUserRoom(userID string) error
	SendRoomMessage(msg realtime.RoomMessage) error
	OnRoomMessage(fn func(realtime.RoomMessage)) func()
	OnNewConversation(fn func(realtime.NewConversation)) func()
}

// Service orchestrates the cache against the REST API and the realtime
// channel, and owns the active-conversation pointer.
type Service struct {
	api      API
	channel  Channel
	store    *Store
	notifier *notify.Notifier
	session  *session.Store
	logger   logrus.FieldLogger

	mu      sync.Mutex
	active  *api.Conversation
	unsubs  []func()
	started bool

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

func NewService(restAPI API, channel Channel, store *Store, notifier *notify.Notifier, sess *session.Store, logger logrus.FieldLogger) *Service {
	return &Service{
		api:      restAPI,
		channel:  channel,
		store:    store,
		notifier: notifier,
		session:  sess,
		logger:   logger,
		watchers: make(map[int]chan struct{}),
	}
}

// Start joins the user's personal room and registers the socket handlers.
// It must be called once per authenticated session, after the channel is
// connected.
func (s *Service) Start() error {
	user := s.session.Current()
	if user == nil {
		return ErrNotLoggedIn
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if err := s.channel.JoinUserRoom(user.ID); err != nil {
		return fmt.Errorf("joining user room: %w", err)
	}
	s.unsubs = append(s.unsubs,
		s.channel.OnRoomMessage(s.handleRoomMessage),
		s.channel.OnNewConversation(s.handleNewConversation),
	)
	s.started = true
	return nil
}

// Stop leaves the active room, removes the socket handlers, and runs even
// when the surface rendering the service is torn down abruptly.
func (s *Service) Stop() {
	s.closeActive()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.started = false
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

// Conversations serves from the cache while fresh, refetching otherwise.
func (s *Service) Conversations(ctx context.Context) ([]api.Conversation, error) {
	cached, fresh := s.store.Conversations()
	if fresh {
		return cached, nil
	}

	conversations, err := s.api.Conversations(ctx)
	if err != nil {
		// Keep serving the previous snapshot; the caller surfaces the error.
		return cached, fmt.Errorf("fetching conversations: %w", err)
	}
	s.store.SetConversations(conversations)
	return conversations, nil
}

// CachedConversations returns the current snapshot without ever fetching.
// Render paths use this; staleness is the fetch paths' concern.
func (s *Service) CachedConversations() []api.Conversation {
	conversations, _ := s.store.Conversations()
	return conversations
}

// CachedMessages returns the cached history snapshot without ever fetching.
func (s *Service) CachedMessages(conversationID string) []api.Message {
	messages, _ := s.store.Messages(conversationID)
	return messages
}

// Messages lazily fetches the history for one conversation, serving the
// cache while fresh.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]api.Message, error) {
	cached, fresh := s.store.Messages(conversationID)
	if fresh {
		return cached, nil
	}

	messages, err := s.api.Messages(ctx, conversationID)
	if err != nil {
		return cached, fmt.Errorf("fetching messages: %w", err)
	}
	s.store.SetMessages(conversationID, messages)
	return messages, nil
}

// Active returns the selected conversation, or nil.
func (s *Service) Active() *api.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	conv := *s.active
	return &conv
}

// Open creates or joins the conversation with the recipient, switches the
// joined room over to it, merges it into the list, and warms its history.
func (s *Service) Open(ctx context.Context, recipientEmail string) (*api.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, recipientEmail)
	if err != nil {
		if msg, ok := api.ServerMessage(err); ok {
			s.notifier.Error(msg)
		} else {
			s.notifier.Error("No user found with that email.")
		}
		return nil, err
	}

	s.mu.Lock()
	prev := s.active
	// Join before leaving: a failed join must keep the previous room and
	// active pointer intact.
	if err := s.channel.JoinRoom(conv.RoomID); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("joining room %s: %w", conv.RoomID, err)
	}
	if prev != nil && prev.RoomID != conv.RoomID {
		if err := s.channel.LeaveRoom(prev.RoomID); err != nil {
			s.logger.WithError(err).Warn("leaving previous room failed")
		}
	}
	selected := *conv
	s.active = &selected
	s.mu.Unlock()

	s.store.MergeConversation(*conv)

	if _, err := s.Messages(ctx, conv.ID); err != nil {
		s.logger.WithError(err).Warn("warming message history failed")
	}

	s.signal()
	return conv, nil
}

// Send posts the message, then applies the optimistic cache patches and
// notifies the peer's room. Nothing is applied on failure, so the caller
// can keep the composer text for a retry.
func (s *Service) Send(ctx context.Context, content string) (*api.Message, error) {
	user := s.session.Current()
	if user == nil {
		return nil, ErrNotLoggedIn
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		s.notifier.Error("Please select a conversation first.")
		return nil, ErrNoActiveConversation
	}

	msg, err := s.api.SendMessage(ctx, active.ID, content, user.ID)
	if err != nil {
		s.notifier.Error("Failed to send message.")
		return nil, err
	}

	s.store.ApplyMessage(active.ID, *msg, OriginLocal)

	if err := s.channel.SendRoomMessage(realtime.RoomMessage{
		RoomID:   active.RoomID,
		Msg:      *msg,
		SenderID: user.ID,
	}); err != nil {
		// The message is persisted; the peer picks it up on their next
		// fetch even if this notification is lost.
		s.logger.WithError(err).Warn("emitting room message failed")
	}

	s.signal()
	return msg, nil
}

// Close deselects the active conversation and leaves its room. Always safe
// to call; it is the Esc/teardown path.
func (s *Service) Close() {
	if s.closeActive() {
		s.signal()
	}
}

func (s *Service) closeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	if err := s.channel.LeaveRoom(s.active.RoomID); err != nil {
		s.logger.WithError(err).Warn("leaving room failed")
	}
	s.active = nil
	return true
}

// Watch returns a channel that receives a tick whenever cached state
// changes, plus an unsubscribe function. The channel is closed on
// unsubscribe, so range loops over it terminate.
func (s *Service) Watch() (<-chan struct{}, func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		if sub, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(sub)
		}
		s.watchMu.Unlock()
	}
}

func (s *Service) signal() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// handleRoomMessage applies messages pushed for the presently joined room.
// The sender's own echo is discarded: the optimistic path already applied it.
func (s *Service) handleRoomMessage(event realtime.RoomMessage) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == nil || event.RoomID != active.RoomID {
		return
	}
	if user := s.session.Current(); user != nil && event.SenderID == user.ID {
		return
	}

	if s.store.ApplyMessage(active.ID, event.Msg, OriginRemote) {
		s.signal()
	}
}

// handleNewConversation reacts to a conversation created by someone else's
// first message. That message cannot arrive via a conversation room, since
// this client has never joined one for a conversation it does not know, so
// the event carries the conversation and the message together.
func (s *Service) handleNewConversation(event realtime.NewConversation) {
	if !s.store.PrependConversation(event.Conversation, event.Message) {
		return
	}

	senderName := "someone"
	if user := s.session.Current(); user != nil {
		if sender, ok := event.Conversation.Recipient(user.ID); ok {
			senderName = sender.Name
		}
	}
	s.notifier.Info("New message from " + senderName)
	s.signal()
}
