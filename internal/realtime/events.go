package realtime

import (
	"encoding/json"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
)

// Event names shared with the backend's socket handlers.
const (
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventJoinUserRoom    = "joinUserRoom"
	EventPrivateRoomChat = "privateRoomChat"
	EventNewConversation = "newConversationWithMessage"
)

// envelope is the single frame format: one event name plus its payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

type userRoomRef struct {
	UserID string `json:"userId"`
}

// RoomMessage is the privateRoomChat payload, used in both directions.
type RoomMessage struct {
	RoomID   string      `json:"roomId"`
	Msg      api.Message `json:"msg"`
	SenderID string      `json:"senderId"`
}

// NewConversation announces a conversation created by someone else's first
// message, delivered on the user's personal room.
type NewConversation struct {
	Conversation api.Conversation `json:"conversation"`
	Message      api.Message      `json:"message"`
}
