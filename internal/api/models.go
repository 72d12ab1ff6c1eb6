package api

import (
	"encoding/json"
	"time"
)

// Wire types mirror the backend's JSON documents, Mongo-style "_id" included.

type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo,omitempty"`
}

type LastMessage struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a two-member thread. RoomID identifies the realtime room
// and is distinct from the persistent conversation id.
type Conversation struct {
	ID          string      `json:"_id"`
	RoomID      string      `json:"roomId"`
	Members     []User      `json:"members"`
	LastMessage LastMessage `json:"lastMessage"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Recipient returns the member other than selfID.
func (c Conversation) Recipient(selfID string) (User, bool) {
	for _, m := range c.Members {
		if m.ID != selfID {
			return m, true
		}
	}
	return User{}, false
}

type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// envelope is the backend's uniform response shape.
type envelope struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
