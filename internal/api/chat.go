package api

import (
	"context"
	"net/url"
)

// Conversations lists the current user's conversations in server order.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var data struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.get(ctx, "/conversations", nil, &data); err != nil {
		return nil, err
	}
	return data.Conversations, nil
}

// CreateConversation creates a conversation with the recipient, or returns
// the existing one when the pair already has a thread.
func (c *Client) CreateConversation(ctx context.Context, recipientEmail string) (*Conversation, error) {
	var data struct {
		Conversation Conversation `json:"conversation"`
	}
	body := map[string]string{"recipientEmail": recipientEmail}
	if err := c.post(ctx, "/conversations", body, &data); err != nil {
		return nil, err
	}
	return &data.Conversation, nil
}

// Messages returns the ordered history for one conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var data struct {
		Messages []Message `json:"messages"`
	}
	query := url.Values{"conversationId": {conversationID}}
	if err := c.get(ctx, "/messages", query, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

// SendMessage creates the message server-side and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, senderID string) (*Message, error) {
	var data struct {
		Message Message `json:"message"`
	}
	body := map[string]string{
		"conversationId": conversationID,
		"message":        content,
		"senderId":       senderID,
	}
	if err := c.post(ctx, "/messages", body, &data); err != nil {
		return nil, err
	}
	return &data.Message, nil
}
