package data

import (
	"context"
	"regexp"
	"strings"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/infra/openai"
)

// Chat participant names the backend accepts
var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxNameLength = 64

// generatorRepo implements the Generator repository over an OpenAI-compatible backend
type generatorRepo struct {
	client *openai.Client
}

// NewGeneratorRepo creates a new Generator repository
func NewGeneratorRepo(client *openai.Client) repo.GeneratorRepo {
	return &generatorRepo{client: client}
}

// ChatComplete runs a structured chat request
func (r *generatorRepo) ChatComplete(ctx context.Context, entries []domain.ChatEntry, maxTokens int) (*domain.Generation, error) {
	messages := make([]openai.Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, openai.Message{
			Role:    e.Role,
			// The audit keeps the display name, the backend only accepts [a-zA-Z0-9_-]
			Name:    sanitizeName(e.Name),
			Content: e.Content,
		})
	}
	res, err := r.client.Chat(ctx, messages, maxTokens)
	if err != nil {
		return nil, err
	}
	return toGeneration(res), nil
}

// TextComplete runs a single-text completion request
func (r *generatorRepo) TextComplete(ctx context.Context, prompt string, maxTokens int) (*domain.Generation, error) {
	res, err := r.client.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return nil, err
	}
	return toGeneration(res), nil
}

func toGeneration(res *openai.Result) *domain.Generation {
	return &domain.Generation{
		Text:  res.Text,
		Model: res.Model,
		Usage: domain.Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.TotalTokens,
		},
	}
}

// sanitizeName maps a display name onto the backend's name alphabet.
// Returns "" when nothing usable is left, which omits the name.
func sanitizeName(name string) string {
	trimmed := strings.Trim(invalidNameChars.ReplaceAllString(name, "_"), "_")
	if len(trimmed) > maxNameLength {
		trimmed = trimmed[:maxNameLength]
	}
	return trimmed
}
