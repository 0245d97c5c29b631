package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// Answer is a generated reply ready for delivery
type Answer struct {
	Text     string
	IsFormal bool
	Trigger  domain.Trigger
}

// ReplyUsecase runs the trigger-to-text pipeline for a recorded message
type ReplyUsecase struct {
	classifier  *TriggerClassifier
	windows     *ContextWindowBuilder
	personas    *PersonaResolver
	compiler    *PromptCompiler
	dispatcher  *GenerationDispatcher
	messageRepo repo.MessageRepo
	cfg         PipelineConfig
	logger      *zap.Logger
}

// NewReplyUsecase creates a new reply usecase
func NewReplyUsecase(
	classifier *TriggerClassifier,
	windows *ContextWindowBuilder,
	personas *PersonaResolver,
	compiler *PromptCompiler,
	dispatcher *GenerationDispatcher,
	messageRepo repo.MessageRepo,
	cfg PipelineConfig,
	logger *zap.Logger,
) *ReplyUsecase {
	return &ReplyUsecase{
		classifier:  classifier,
		windows:     windows,
		personas:    personas,
		compiler:    compiler,
		dispatcher:  dispatcher,
		messageRepo: messageRepo,
		cfg:         cfg.WithDefaults(),
		logger:      logger.Named("reply"),
	}
}

// Answer classifies the message and, if triggered, generates a reply.
// Returns nil when the persona stays silent.
func (uc *ReplyUsecase) Answer(ctx context.Context, conv *domain.Conversation, rec *Recorded) (*Answer, error) {
	msg := rec.Message
	repliedToPersona := rec.Replied != nil &&
		(rec.Replied.IsPersonaAuthor || (uc.cfg.PersonaID != "" && rec.Replied.AuthorID == uc.cfg.PersonaID))

	trigger := uc.classifier.Classify(msg, repliedToPersona)
	uc.logger.Debug("message classified",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.Stringer("trigger", trigger))

	var (
		ans *Answer
		err error
	)
	switch trigger {
	case domain.TriggerReplyToPersona:
		ans, err = uc.answerReply(ctx, conv, rec)
	case domain.TriggerMention:
		ans, err = uc.answerMention(ctx, conv, msg)
	case domain.TriggerAmbient:
		ans, err = uc.interject(ctx, conv, msg)
	default:
		return nil, nil
	}
	if err != nil || ans == nil {
		return nil, err
	}
	ans.Trigger = trigger
	return ans, nil
}

func (uc *ReplyUsecase) answerReply(ctx context.Context, conv *domain.Conversation, rec *Recorded) (*Answer, error) {
	anchor := uc.windows.ReplyAnchor(ctx, rec.Message, rec.Replied)
	window, err := uc.windows.Build(ctx, conv.ID, anchor.Timestamp, uc.cfg.MinusMinutes, uc.cfg.MessagesLimit*2)
	if err != nil {
		return nil, fmt.Errorf("build reply window: %w", err)
	}
	persona := uc.personas.ResolveRegister(conv, uc.personas.AllowsInformal(conv, window))
	return uc.generate(ctx, conv, window, persona, domain.ModeAnswer), nil
}

func (uc *ReplyUsecase) answerMention(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*Answer, error) {
	window, err := uc.windows.Build(ctx, conv.ID, msg.Timestamp, uc.cfg.MinusMinutes, uc.cfg.MessagesLimit)
	if err != nil {
		return nil, fmt.Errorf("build mention window: %w", err)
	}
	text := msg.Content()
	informal := uc.classifier.HasInformalMention(text) ||
		(uc.personas.AllowsInformal(conv, window) && !uc.classifier.HasFormalMention(text))
	persona := uc.personas.ResolveRegister(conv, informal)
	return uc.generate(ctx, conv, window, persona, domain.ModeAnswer), nil
}

// interject anchors on the persona's last message so only the talk since
// then counts toward the ambient threshold. Until the persona has spoken the
// anchor is the last stored message, which is msg itself, so a conversation
// the persona never posted in does not get ambient answers.
func (uc *ReplyUsecase) interject(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*Answer, error) {
	anchor, err := uc.messageRepo.GetLastPersona(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("get last persona message: %w", err)
	}
	if anchor == nil {
		if anchor, err = uc.messageRepo.GetLast(ctx, conv.ID); err != nil {
			return nil, fmt.Errorf("get last message: %w", err)
		}
	}
	if anchor == nil {
		anchor = msg
	}

	window, err := uc.windows.Build(ctx, conv.ID, anchor.Timestamp, 0, uc.cfg.AmbientEveryNth*2)
	if err != nil {
		return nil, fmt.Errorf("build ambient window: %w", err)
	}
	if !uc.classifier.ShouldInterject(window) {
		return nil, nil
	}
	if len(window) > uc.cfg.MessagesLimit {
		window = window[len(window)-uc.cfg.MessagesLimit:]
	}
	return uc.generate(ctx, conv, window, uc.personas.Resolve(conv), domain.ModeInterrupt), nil
}

func (uc *ReplyUsecase) generate(
	ctx context.Context,
	conv *domain.Conversation,
	window []domain.WindowEntry,
	persona *domain.Persona,
	mode domain.Mode,
) *Answer {
	req := uc.compiler.Compile(CompileInput{Window: window, Persona: persona, Mode: mode})
	text := strings.TrimSpace(uc.dispatcher.Dispatch(ctx, conv.ID, req))
	if text == "" {
		return nil
	}
	return &Answer{Text: text, IsFormal: persona.IsFormal}
}
