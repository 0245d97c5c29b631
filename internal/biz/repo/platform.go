package repo

import (
	"context"
	"time"
)

// SendOptions controls outbound delivery
type SendOptions struct {
	ReplyToMessageID string
}

// SentMessage is what the platform reports for a delivered message
type SentMessage struct {
	MessageID      string
	ConversationID string
	AuthorID       string
	Timestamp      time.Time
}

// PlatformRepo is the outbound side of the chat platform
type PlatformRepo interface {
	SendMessage(ctx context.Context, conversationID, text string, opts SendOptions) (*SentMessage, error)
}

// Translator looks up localized strings.
// Missing keys return the key itself.
type Translator interface {
	T(key string, args map[string]string) string
	List(key string) []string
}
