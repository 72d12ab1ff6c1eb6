// Package chat reconciles conversation state arriving over HTTP fetches,
// optimistic local sends, and remote socket pushes into one consistent
// view per conversation.
package chat

import (
	"sync"
	"time"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
)

// Origin identifies which path produced a message mutation. Exactly one of
// the two paths may insert a given message for the sending user.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

type messageEntry struct {
	items     []api.Message
	ids       map[string]struct{}
	fetchedAt time.Time
}

// Store is the synchronization cache. Keys are the conversation list and
// per-conversation message lists; every mutation is a read-modify-write
// under one lock acquisition, which replaces the browser's single-threaded
// tick as the serialization mechanism.
//
// Ordering policy: message lists are append-ordered by arrival, never
// re-sorted by timestamp. The conversation list keeps the server's order;
// new activity patches lastMessage/updatedAt in place without floating the
// conversation to the top.
type Store struct {
	mu         sync.Mutex
	staleAfter time.Duration
	now        func() time.Time

	conversations          []api.Conversation
	conversationsFetchedAt time.Time

	messages map[string]*messageEntry
}

// NewStore builds a cache whose entries go stale after the given window.
func NewStore(staleAfter time.Duration) *Store {
	return &Store{
		staleAfter: staleAfter,
		now:        time.Now,
		messages:   make(map[string]*messageEntry),
	}
}

// Conversations returns the cached list and whether it is still fresh.
// A false second return means the caller should refetch.
func (s *Store) Conversations() ([]api.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := !s.conversationsFetchedAt.IsZero() &&
		s.now().Sub(s.conversationsFetchedAt) < s.staleAfter
	return append([]api.Conversation(nil), s.conversations...), fresh
}

// SetConversations replaces the list with a server response. Server order
// is authoritative.
func (s *Store) SetConversations(conversations []api.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = append([]api.Conversation(nil), conversations...)
	s.conversationsFetchedAt = s.now()
}

// Conversation looks a cached conversation up by id.
func (s *Store) Conversation(id string) (api.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return api.Conversation{}, false
}

// Messages returns the cached history for a conversation and whether it is
// fresh. Histories are only ever populated on demand for the selected
// conversation.
func (s *Store) Messages(conversationID string) ([]api.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.messages[conversationID]
	if !ok {
		return nil, false
	}
	fresh := s.now().Sub(entry.fetchedAt) < s.staleAfter
	return append([]api.Message(nil), entry.items...), fresh
}

// SetMessages replaces a conversation's history with a server response,
// deduplicating by id in case the fetch raced a socket delivery.
func (s *Store) SetMessages(conversationID string, messages []api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &messageEntry{
		ids:       make(map[string]struct{}, len(messages)),
		fetchedAt: s.now(),
	}
	for _, msg := range messages {
		if _, seen := entry.ids[msg.ID]; seen {
			continue
		}
		entry.ids[msg.ID] = struct{}{}
		entry.items = append(entry.items, msg)
	}
	s.messages[conversationID] = entry
}

// ApplyMessage is the single mutation point for both the local-send and
// remote-receive paths. It appends the message to the conversation's
// history (if cached) and patches the conversation list's preview fields.
// Duplicate ids are dropped no matter which origin delivered them, so an
// at-least-once transport cannot double-insert. It reports whether the
// message was newly applied.
func (s *Store) ApplyMessage(conversationID string, msg api.Message, origin Origin) bool {
	if msg.ConversationID != conversationID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.messages[conversationID]; ok {
		if _, seen := entry.ids[msg.ID]; seen {
			return false
		}
		entry.ids[msg.ID] = struct{}{}
		entry.items = append(entry.items, msg)
	}
	// Without a cached history there is nothing to append to; the message
	// arrives with the lazy fetch. The preview still moves forward.

	s.patchPreviewLocked(msg)
	return true
}

// MergeConversation inserts a conversation returned by create-or-join,
// deduplicating by id. Reports whether the list changed.
func (s *Store) MergeConversation(conv api.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conversations {
		if existing.ID == conv.ID {
			return false
		}
	}
	s.conversations = append(s.conversations, conv)
	return true
}

// PrependConversation synthesizes a list entry for a conversation first
// announced by another user's message. No-op when the id is already known.
func (s *Store) PrependConversation(conv api.Conversation, first api.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conversations {
		if existing.ID == conv.ID {
			return false
		}
	}

	conv.LastMessage = api.LastMessage{
		Content:   first.Content,
		Sender:    first.SenderID,
		CreatedAt: first.CreatedAt,
	}
	conv.UpdatedAt = s.now()
	s.conversations = append([]api.Conversation{conv}, s.conversations...)
	return true
}

// DropMessages evicts a conversation's cached history.
func (s *Store) DropMessages(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
}

func (s *Store) patchPreviewLocked(msg api.Message) {
	for i := range s.conversations {
		if s.conversations[i].ID != msg.ConversationID {
			continue
		}
		s.conversations[i].LastMessage = api.LastMessage{
			Content:   msg.Content,
			Sender:    msg.SenderID,
			CreatedAt: msg.CreatedAt,
		}
		s.conversations[i].UpdatedAt = s.now()
		return
	}
}
