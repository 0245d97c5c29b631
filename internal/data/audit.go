package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// auditRepo implements the GenerationAudit repository
type auditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new audit repository
func NewAuditRepo(db *sql.DB) repo.AuditRepo {
	return &auditRepo{db: db}
}

// Create stores an audit record
func (r *auditRepo) Create(ctx context.Context, a *domain.GenerationAudit) error {
	var chat, response string
	if a.ChatRequest != nil {
		b, err := json.Marshal(a.ChatRequest)
		if err != nil {
			return fmt.Errorf("failed to encode chat request: %w", err)
		}
		chat = string(b)
	}
	if a.Response != nil {
		b, err := json.Marshal(a.Response)
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		response = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audits (id, conversation_id, type, chat_request, completion_request, max_tokens, response, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.ConversationID,
		string(a.Type),
		chat,
		a.CompletionRequest,
		a.MaxTokens,
		response,
		a.Error,
		toMillis(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create audit: %w", err)
	}
	return nil
}

// ListRecent lists the latest audits, newest first
func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]*domain.GenerationAudit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, type, chat_request, completion_request, max_tokens, response, error, created_at
		FROM audits
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var audits []*domain.GenerationAudit
	for rows.Next() {
		var (
			a              domain.GenerationAudit
			typ            string
			chat, response string
			createdAt      int64
		)
		if err := rows.Scan(&a.ID, &a.ConversationID, &typ, &chat, &a.CompletionRequest,
			&a.MaxTokens, &response, &a.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		a.Type = domain.RequestType(typ)
		a.CreatedAt = fromMillis(createdAt)
		if chat != "" {
			if err := json.Unmarshal([]byte(chat), &a.ChatRequest); err != nil {
				return nil, fmt.Errorf("failed to decode chat request: %w", err)
			}
		}
		if response != "" {
			a.Response = &domain.Generation{}
			if err := json.Unmarshal([]byte(response), a.Response); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}
