package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// ContextWindowBuilder retrieves the bounded, chronological message window
// a prompt is built from
type ContextWindowBuilder struct {
	messageRepo repo.MessageRepo
	userRepo    repo.UserRepo
}

// NewContextWindowBuilder creates a new context window builder
func NewContextWindowBuilder(messageRepo repo.MessageRepo, userRepo repo.UserRepo) *ContextWindowBuilder {
	return &ContextWindowBuilder{messageRepo: messageRepo, userRepo: userRepo}
}

// Build returns up to limit text-bearing messages stamped at or after
// anchor-minusMinutes, keeping the most recent ones, ordered oldest first.
// A message whose author is unknown gets a nil Author.
func (b *ContextWindowBuilder) Build(
	ctx context.Context,
	conversationID string,
	anchor time.Time,
	minusMinutes int,
	limit int,
) ([]domain.WindowEntry, error) {
	msgs, err := b.messageRepo.ListRecent(ctx, repo.MessageQuery{
		ConversationID: conversationID,
		Since:          anchor.Add(-time.Duration(minusMinutes) * time.Minute),
		Limit:          limit,
		Types:          domain.TextBearingTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return b.join(ctx, chronological(msgs))
}

// AuthorMessages returns an author's latest text-bearing messages, oldest first
func (b *ContextWindowBuilder) AuthorMessages(ctx context.Context, conversationID, authorID string, limit int) ([]*domain.Message, error) {
	msgs, err := b.messageRepo.ListRecent(ctx, repo.MessageQuery{
		ConversationID: conversationID,
		Limit:          limit,
		Types:          domain.TextBearingTypes,
		AuthorID:       authorID,
	})
	if err != nil {
		return nil, fmt.Errorf("list author messages: %w", err)
	}
	return chronological(msgs), nil
}

// ReplyAnchor picks the message a reply window is anchored on: the thread
// root if stored, else the replied-to message, else the message itself
func (b *ContextWindowBuilder) ReplyAnchor(ctx context.Context, msg, replied *domain.Message) *domain.Message {
	if msg.ThreadID != "" {
		root, err := b.messageRepo.GetByConversationAndID(ctx, msg.ConversationID, msg.ThreadID)
		if err == nil && root != nil {
			return root
		}
	}
	if replied != nil {
		return replied
	}
	return msg
}

func (b *ContextWindowBuilder) join(ctx context.Context, msgs []*domain.Message) ([]domain.WindowEntry, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			ids = append(ids, m.AuthorID)
		}
	}

	users, err := b.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get window authors: %w", err)
	}
	byID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	entries := make([]domain.WindowEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, domain.WindowEntry{Message: m, Author: byID[m.AuthorID]})
	}
	return entries, nil
}

// chronological drops repeated ids and sorts by timestamp ascending,
// whatever order the store returned
func chronological(msgs []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m == nil || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
