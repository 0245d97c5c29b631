package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

var errEmptyGeneration = errors.New("backend returned no choices")

// GenerationDispatcher sends a compiled request to the backend once and
// audits the attempt
type GenerationDispatcher struct {
	generator repo.GeneratorRepo
	auditRepo repo.AuditRepo
	logger    *zap.Logger
	now       func() time.Time
}

// NewGenerationDispatcher creates a new dispatcher
func NewGenerationDispatcher(generator repo.GeneratorRepo, auditRepo repo.AuditRepo, logger *zap.Logger) *GenerationDispatcher {
	return &GenerationDispatcher{
		generator: generator,
		auditRepo: auditRepo,
		logger:    logger.Named("dispatcher"),
		now:       time.Now,
	}
}

// Dispatch runs the request and returns the generated text, or "" when the
// backend failed or produced nothing. Exactly one audit is written per call.
func (d *GenerationDispatcher) Dispatch(ctx context.Context, conversationID string, req CompiledRequest) string {
	audit := &domain.GenerationAudit{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Type:           req.Type(),
		CreatedAt:      d.now(),
	}

	gen, err := d.call(ctx, req, audit)
	if err == nil && gen == nil {
		err = errEmptyGeneration
	}
	if err != nil {
		audit.Error = err.Error()
		d.logger.Error("generation failed",
			zap.String("conversation_id", conversationID),
			zap.String("type", string(audit.Type)),
			zap.Error(err))
	} else {
		audit.Response = gen
	}

	if aerr := d.auditRepo.Create(ctx, audit); aerr != nil {
		d.logger.Warn("failed to write generation audit",
			zap.String("audit_id", audit.ID),
			zap.Error(aerr))
	}

	if err != nil {
		return ""
	}
	d.logger.Info("generation dispatched",
		zap.String("conversation_id", conversationID),
		zap.String("type", string(audit.Type)),
		zap.String("model", gen.Model),
		zap.Int("total_tokens", gen.Usage.TotalTokens))
	return gen.Text
}

func (d *GenerationDispatcher) call(ctx context.Context, req CompiledRequest, audit *domain.GenerationAudit) (gen *domain.Generation, err error) {
	defer func() {
		if r := recover(); r != nil {
			gen, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()

	switch r := req.(type) {
	case *ChatRequest:
		audit.ChatRequest = r.Entries
		audit.MaxTokens = r.MaxTokens
		return d.generator.ChatComplete(ctx, r.Entries, r.MaxTokens)
	case *CompletionRequest:
		audit.CompletionRequest = r.Prompt
		audit.MaxTokens = r.MaxTokens
		return d.generator.TextComplete(ctx, r.Prompt, r.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}
