package domain

import "time"

// InboundEvent is one message delivered by the chat platform
type InboundEvent struct {
	ConversationID string
	ChatType       ChatType
	ChatTitle      string
	MessageID      string
	Author         Author
	Text           string
	Caption        string
	Type           MessageType
	ReplyToID      string
	ThreadID       string
	Timestamp      time.Time

	// ReplyTo is the replied-to message as the platform last saw it, when available
	ReplyTo *InboundEvent
}

// Content returns text, falling back to caption
func (e *InboundEvent) Content() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Caption
}

// ToMessage converts the event into the Message stored for it
func (e *InboundEvent) ToMessage(now time.Time) *Message {
	return &Message{
		ID:             e.MessageID,
		ConversationID: e.ConversationID,
		AuthorID:       e.Author.ID,
		Text:           e.Text,
		Caption:        e.Caption,
		Type:           e.Type,
		ThreadID:       e.ThreadID,
		ReplyToID:      e.ReplyToID,
		Timestamp:      e.Timestamp,
		CreatedAt:      now,
	}
}
