package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

const messageColumns = `conversation_id, id, author_id, text, caption, type, thread_id, reply_to_id, is_persona, is_formal, ts, created_at`

// messageRepo implements the Message repository
type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new Message repository
func NewMessageRepo(db *sql.DB) repo.MessageRepo {
	return &messageRepo{db: db}
}

// Create appends a message
func (r *messageRepo) Create(ctx context.Context, msg *domain.Message) error {
	var isFormal any
	if msg.IsFormalReply != nil {
		isFormal = boolToInt(*msg.IsFormalReply)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ConversationID,
		msg.ID,
		msg.AuthorID,
		msg.Text,
		msg.Caption,
		string(msg.Type),
		msg.ThreadID,
		msg.ReplyToID,
		boolToInt(msg.IsPersonaAuthor),
		isFormal,
		toMillis(msg.Timestamp),
		toMillis(msg.CreatedAt),
	)
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByConversationAndID gets a message by its identity
func (r *messageRepo) GetByConversationAndID(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	return r.getOne(ctx, `WHERE conversation_id = ? AND id = ?`, conversationID, messageID)
}

// GetLast gets the most recent message
func (r *messageRepo) GetLast(ctx context.Context, conversationID string) (*domain.Message, error) {
	return r.getOne(ctx, `WHERE conversation_id = ? ORDER BY ts DESC, created_at DESC LIMIT 1`, conversationID)
}

// GetLastPersona gets the most recent persona message
func (r *messageRepo) GetLastPersona(ctx context.Context, conversationID string) (*domain.Message, error) {
	return r.getOne(ctx, `WHERE conversation_id = ? AND is_persona = 1 ORDER BY ts DESC, created_at DESC LIMIT 1`, conversationID)
}

func (r *messageRepo) getOne(ctx context.Context, where string, args ...any) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages `+where, args...)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// ListRecent lists matching messages, most recent first
func (r *messageRepo) ListRecent(ctx context.Context, q repo.MessageQuery) ([]*domain.Message, error) {
	var (
		where = []string{"conversation_id = ?"}
		args  = []any{q.ConversationID}
	)
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toMillis(q.Since))
	}
	if q.AuthorID != "" {
		where = append(where, "author_id = ?")
		args = append(args, q.AuthorID)
	}
	if len(q.Types) > 0 {
		where = append(where, "type IN ("+strings.TrimSuffix(strings.Repeat("?,", len(q.Types)), ",")+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ts DESC, created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg           domain.Message
		typ           string
		isPersona     int
		isFormal      sql.NullInt64
		ts, createdAt int64
	)
	err := row.Scan(&msg.ConversationID, &msg.ID, &msg.AuthorID, &msg.Text, &msg.Caption, &typ,
		&msg.ThreadID, &msg.ReplyToID, &isPersona, &isFormal, &ts, &createdAt)
	if err != nil {
		return nil, err
	}
	msg.Type = domain.ParseMessageType(typ)
	msg.IsPersonaAuthor = isPersona != 0
	if isFormal.Valid {
		formal := isFormal.Int64 != 0
		msg.IsFormalReply = &formal
	}
	msg.Timestamp = fromMillis(ts)
	msg.CreatedAt = fromMillis(createdAt)
	return &msg, nil
}
