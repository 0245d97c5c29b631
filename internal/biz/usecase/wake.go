package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

const wakeScanConcurrency = 8

// SweepResult summarizes one wake sweep
type SweepResult struct {
	Scanned int `json:"scanned"`
	Idle    int `json:"idle"`
	Sent    int `json:"sent"`
	Silent  int `json:"silent"`
	Failed  int `json:"failed"`
}

// WakeUsecase revives idle conversations with an unsolicited message
type WakeUsecase struct {
	convRepo     repo.ConversationRepo
	messageRepo  repo.MessageRepo
	userRepo     repo.UserRepo
	platformRepo repo.PlatformRepo
	windows      *ContextWindowBuilder
	personas     *PersonaResolver
	compiler     *PromptCompiler
	dispatcher   *GenerationDispatcher
	recorder     *RecorderUsecase
	idle         time.Duration
	memberLimit  int
	intn         func(n int) int
	logger       *zap.Logger
}

// NewWakeUsecase creates a new wake usecase. A nil intn uses math/rand.
func NewWakeUsecase(
	convRepo repo.ConversationRepo,
	messageRepo repo.MessageRepo,
	userRepo repo.UserRepo,
	platformRepo repo.PlatformRepo,
	windows *ContextWindowBuilder,
	personas *PersonaResolver,
	compiler *PromptCompiler,
	dispatcher *GenerationDispatcher,
	recorder *RecorderUsecase,
	cfg PipelineConfig,
	idle time.Duration,
	intn func(n int) int,
	logger *zap.Logger,
) *WakeUsecase {
	if intn == nil {
		intn = rand.IntN
	}
	return &WakeUsecase{
		convRepo:     convRepo,
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		platformRepo: platformRepo,
		windows:      windows,
		personas:     personas,
		compiler:     compiler,
		dispatcher:   dispatcher,
		recorder:     recorder,
		idle:         idle,
		memberLimit:  cfg.WithDefaults().MessagesLimit,
		intn:         intn,
		logger:       logger.Named("wake"),
	}
}

// Sweep wakes every wake-enabled conversation whose last message is older
// than the idle threshold. Conversations without any message are skipped.
// A failure in one conversation does not stop the others.
func (uc *WakeUsecase) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	convs, err := uc.convRepo.ListWakeEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wake-enabled conversations: %w", err)
	}

	idle := uc.scan(ctx, convs, now.Add(-uc.idle))
	res := &SweepResult{Scanned: len(convs), Idle: len(idle)}

	for _, conv := range idle {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		sent, err := uc.wake(ctx, conv)
		switch {
		case err != nil:
			res.Failed++
			uc.logger.Error("wake failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		case sent:
			res.Sent++
		default:
			res.Silent++
		}
	}
	return res, nil
}

// scan fetches last messages concurrently and keeps the idle conversations
func (uc *WakeUsecase) scan(ctx context.Context, convs []*domain.Conversation, cutoff time.Time) []*domain.Conversation {
	lasts := make([]*domain.Message, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(wakeScanConcurrency)
	for i, conv := range convs {
		g.Go(func() error {
			last, err := uc.messageRepo.GetLast(gctx, conv.ID)
			if err != nil {
				uc.logger.Warn("failed to get last message",
					zap.String("conversation_id", conv.ID), zap.Error(err))
				return nil
			}
			lasts[i] = last
			return nil
		})
	}
	_ = g.Wait()

	var idle []*domain.Conversation
	for i, conv := range convs {
		if lasts[i] != nil && lasts[i].Timestamp.Before(cutoff) {
			idle = append(idle, conv)
		}
	}
	return idle
}

func (uc *WakeUsecase) wake(ctx context.Context, conv *domain.Conversation) (bool, error) {
	persona := uc.personas.Resolve(conv)
	req := uc.compiler.Compile(CompileInput{
		Persona:       persona,
		Mode:          domain.ModeWakeup,
		MemberProfile: uc.memberProfile(ctx, conv),
	})

	text := strings.TrimSpace(uc.dispatcher.Dispatch(ctx, conv.ID, req))
	if text == "" {
		return false, nil
	}

	sent, err := uc.platformRepo.SendMessage(ctx, conv.ID, text, repo.SendOptions{})
	if err != nil {
		return false, fmt.Errorf("send wake message: %w", err)
	}
	if err := uc.recorder.SaveReply(ctx, conv, sent, text, "", persona.IsFormal); err != nil {
		return true, fmt.Errorf("save wake message: %w", err)
	}
	uc.logger.Info("conversation woken", zap.String("conversation_id", conv.ID))
	return true, nil
}

// memberProfile describes one random non-bot member, "" if none qualifies
func (uc *WakeUsecase) memberProfile(ctx context.Context, conv *domain.Conversation) string {
	if len(conv.MemberIDs) == 0 {
		return ""
	}
	users, err := uc.userRepo.GetByIDs(ctx, conv.MemberIDs)
	if err != nil {
		uc.logger.Warn("failed to load members", zap.String("conversation_id", conv.ID), zap.Error(err))
		return ""
	}
	var humans []*domain.User
	for _, u := range users {
		if !u.IsBot {
			humans = append(humans, u)
		}
	}
	if len(humans) == 0 {
		return ""
	}

	user := humans[uc.intn(len(humans))]
	msgs, err := uc.windows.AuthorMessages(ctx, conv.ID, user.ID, uc.memberLimit)
	if err != nil {
		uc.logger.Warn("failed to load member messages", zap.String("user_id", user.ID), zap.Error(err))
		return ""
	}
	return uc.compiler.MemberProfile(user, msgs)
}
