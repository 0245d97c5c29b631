package biz

import (
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Recorder     *usecase.RecorderUsecase
	Reply        *usecase.ReplyUsecase
	Wake         *usecase.WakeUsecase
	Conversation *usecase.ConversationUsecase
}

// Deps are the collaborators the usecases are built from
type Deps struct {
	Conversations repo.ConversationRepo
	Users         repo.UserRepo
	Messages      repo.MessageRepo
	Audits        repo.AuditRepo
	Generator     repo.GeneratorRepo
	Platform      repo.PlatformRepo
	Translator    repo.Translator

	// Tokens counts prompt tokens. Nil falls back to usecase.EstimateTokens.
	Tokens usecase.TokenEstimator
}

// NewUsecases wires the reply pipeline and its supporting usecases
func NewUsecases(d Deps, cfg usecase.PipelineConfig, wakeIdle time.Duration, logger *zap.Logger) *Usecases {
	classifier := usecase.NewTriggerClassifier(cfg)
	windows := usecase.NewContextWindowBuilder(d.Messages, d.Users)
	personas := usecase.NewPersonaResolver(cfg, d.Translator)
	compiler := usecase.NewPromptCompiler(cfg, d.Translator, d.Tokens, nil)
	dispatcher := usecase.NewGenerationDispatcher(d.Generator, d.Audits, logger)
	recorder := usecase.NewRecorderUsecase(d.Conversations, d.Users, d.Messages, cfg, logger)

	return &Usecases{
		Recorder: recorder,
		Reply: usecase.NewReplyUsecase(
			classifier, windows, personas, compiler, dispatcher, d.Messages, cfg, logger,
		),
		Wake: usecase.NewWakeUsecase(
			d.Conversations, d.Messages, d.Users, d.Platform,
			windows, personas, compiler, dispatcher, recorder,
			cfg, wakeIdle, nil, logger,
		),
		Conversation: usecase.NewConversationUsecase(d.Conversations, d.Audits),
	}
}
