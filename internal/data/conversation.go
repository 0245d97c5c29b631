package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

const conversationColumns = `id, title, chat_type, member_ids, description, quotes, is_rude, wake_enabled, version, created_at, updated_at`

// conversationRepo implements the Conversation repository
type conversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new Conversation repository
func NewConversationRepo(db *sql.DB) repo.ConversationRepo {
	return &conversationRepo{db: db}
}

// Get gets a conversation by ID
func (r *conversationRepo) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return conv, nil
}

// Create inserts a conversation at version 1
func (r *conversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	members, quotes, err := conversationLists(conv)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		conv.ID,
		conv.Title,
		string(conv.ChatType),
		members,
		conv.Description,
		quotes,
		boolToInt(conv.IsRude),
		boolToInt(conv.WakeEnabled),
		toMillis(conv.CreatedAt),
		toMillis(conv.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	conv.Version = 1
	return nil
}

// Update writes the conversation if its version is current
func (r *conversationRepo) Update(ctx context.Context, conv *domain.Conversation) error {
	members, quotes, err := conversationLists(conv)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET title = ?, chat_type = ?, member_ids = ?, description = ?, quotes = ?,
			is_rude = ?, wake_enabled = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		conv.Title,
		string(conv.ChatType),
		members,
		conv.Description,
		quotes,
		boolToInt(conv.IsRude),
		boolToInt(conv.WakeEnabled),
		toMillis(conv.UpdatedAt),
		conv.ID,
		conv.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conv.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return repo.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query conversation: %w", err)
		}
		return repo.ErrConflict
	}
	conv.Version++
	return nil
}

// ListWakeEnabled lists conversations that accept wake messages
func (r *conversationRepo) ListWakeEnabled(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE wake_enabled = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conv                 domain.Conversation
		chatType             string
		members, quotes      string
		isRude, wakeEnabled  int
		createdAt, updatedAt int64
	)
	err := row.Scan(&conv.ID, &conv.Title, &chatType, &members, &conv.Description, &quotes,
		&isRude, &wakeEnabled, &conv.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if conv.MemberIDs, err = unmarshalStrings(members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	if conv.Quotes, err = unmarshalStrings(quotes); err != nil {
		return nil, fmt.Errorf("failed to decode quotes: %w", err)
	}
	conv.ChatType = domain.ChatType(chatType)
	conv.IsRude = isRude != 0
	conv.WakeEnabled = wakeEnabled != 0
	conv.CreatedAt = fromMillis(createdAt)
	conv.UpdatedAt = fromMillis(updatedAt)
	return &conv, nil
}

func conversationLists(conv *domain.Conversation) (members, quotes string, err error) {
	if members, err = marshalStrings(conv.MemberIDs); err != nil {
		return "", "", fmt.Errorf("failed to encode members: %w", err)
	}
	if quotes, err = marshalStrings(conv.Quotes); err != nil {
		return "", "", fmt.Errorf("failed to encode quotes: %w", err)
	}
	return members, quotes, nil
}
