package repo

import (
	"context"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

// GeneratorRepo is the generative text backend
type GeneratorRepo interface {
	// ChatComplete runs a structured multi-turn request
	ChatComplete(ctx context.Context, entries []domain.ChatEntry, maxTokens int) (*domain.Generation, error)

	// TextComplete runs a single-text completion capped at maxTokens
	TextComplete(ctx context.Context, prompt string, maxTokens int) (*domain.Generation, error)
}
