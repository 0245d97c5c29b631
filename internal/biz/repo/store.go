package repo

import (
	"context"
	"errors"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

var (
	// ErrConflict means a conversation update carried a stale version
	ErrConflict = errors.New("conversation version conflict")
	// ErrDuplicate means a record with the same identity already exists
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound means the record to update does not exist
	ErrNotFound = errors.New("record not found")
)

// ConversationRepo persists conversations.
// Getters return (nil, nil) on miss.
type ConversationRepo interface {
	Get(ctx context.Context, id string) (*domain.Conversation, error)

	// Create stores a new conversation with version 1
	Create(ctx context.Context, conv *domain.Conversation) error

	// Update writes the full record if the stored version equals conv.Version,
	// then bumps conv.Version. Returns ErrConflict otherwise.
	Update(ctx context.Context, conv *domain.Conversation) error

	ListWakeEnabled(ctx context.Context) ([]*domain.Conversation, error)
}

// UserRepo persists users
type UserRepo interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	GetByIDs(ctx context.Context, ids []string) ([]*domain.User, error)
}

// MessageQuery selects recent messages of one conversation
type MessageQuery struct {
	ConversationID string
	Since          time.Time // zero means unbounded
	Limit          int
	Types          []domain.MessageType
	AuthorID       string // empty means any author
}

// MessageRepo persists messages. Messages are append-only.
type MessageRepo interface {
	// Create returns ErrDuplicate if (conversation, id) already exists
	Create(ctx context.Context, msg *domain.Message) error

	GetByConversationAndID(ctx context.Context, conversationID, messageID string) (*domain.Message, error)

	// GetLast returns the most recent message of the conversation
	GetLast(ctx context.Context, conversationID string) (*domain.Message, error)

	// GetLastPersona returns the most recent persona-authored message
	GetLastPersona(ctx context.Context, conversationID string) (*domain.Message, error)

	// ListRecent returns up to Limit matching messages, most recent first
	ListRecent(ctx context.Context, q MessageQuery) ([]*domain.Message, error)
}

// AuditRepo persists generation audits
type AuditRepo interface {
	Create(ctx context.Context, audit *domain.GenerationAudit) error
	ListRecent(ctx context.Context, limit int) ([]*domain.GenerationAudit, error)
}
