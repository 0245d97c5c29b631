package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// maxUpdateAttempts bounds read-merge-write retries on version conflicts
const maxUpdateAttempts = 3

// ConversationUsecase handles conversation configuration
type ConversationUsecase struct {
	convRepo  repo.ConversationRepo
	auditRepo repo.AuditRepo
	now       func() time.Time
}

// NewConversationUsecase creates a new conversation usecase
func NewConversationUsecase(convRepo repo.ConversationRepo, auditRepo repo.AuditRepo) *ConversationUsecase {
	return &ConversationUsecase{convRepo: convRepo, auditRepo: auditRepo, now: time.Now}
}

// PersonaUpdate is a partial persona configuration change; nil fields are kept
type PersonaUpdate struct {
	Description *string
	Quotes      []string // nil keeps, empty clears
	IsRude      *bool
	WakeEnabled *bool
}

// Get returns the conversation, or nil if unknown
func (uc *ConversationUsecase) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return uc.convRepo.Get(ctx, id)
}

// ConfigurePersona applies the update and returns the stored result
func (uc *ConversationUsecase) ConfigurePersona(ctx context.Context, id string, upd PersonaUpdate) (*domain.Conversation, error) {
	return updateConversation(ctx, uc.convRepo, id, func(c *domain.Conversation) bool {
		if upd.Description != nil {
			c.Description = *upd.Description
		}
		if upd.Quotes != nil {
			c.Quotes = append([]string{}, upd.Quotes...)
		}
		if upd.IsRude != nil {
			c.IsRude = *upd.IsRude
		}
		if upd.WakeEnabled != nil {
			c.WakeEnabled = *upd.WakeEnabled
		}
		c.UpdatedAt = uc.now()
		return true
	})
}

// RecentAudits lists the latest generation audits
func (uc *ConversationUsecase) RecentAudits(ctx context.Context, limit int) ([]*domain.GenerationAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	return uc.auditRepo.ListRecent(ctx, limit)
}

// updateConversation re-reads the conversation, applies mutate and writes it
// back under the version guard, retrying on conflict. mutate returns false
// when there is nothing to write.
func updateConversation(
	ctx context.Context,
	convRepo repo.ConversationRepo,
	id string,
	mutate func(*domain.Conversation) bool,
) (*domain.Conversation, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		conv, err := convRepo.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get conversation: %w", err)
		}
		if conv == nil {
			return nil, fmt.Errorf("conversation %s: %w", id, repo.ErrNotFound)
		}
		if !mutate(conv) {
			return conv, nil
		}
		err = convRepo.Update(ctx, conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
	}
	return nil, fmt.Errorf("update conversation %s after %d attempts: %w", id, maxUpdateAttempts, repo.ErrConflict)
}
