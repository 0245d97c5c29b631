package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// Bot commands
const (
	CommandStart = "/start"
	CommandHelp  = "/help"
)

// Locale keys of the command answers
const (
	keyStart       = "events.start"
	keyStartFormal = "events.startFormal"
	keyHelp        = "events.help"
	keyHelpFormal  = "events.helpFormal"
)

// ConversationService handles inbound chat messages
type ConversationService struct {
	recorder *usecase.RecorderUsecase
	reply    *usecase.ReplyUsecase
	convRepo repo.ConversationRepo
	platform repo.PlatformRepo
	tr       repo.Translator
	handle   string
	isOwner  func(userID string) bool
	logger   *zap.Logger

	// Per-conversation locks keep one chat's messages in arrival order
	locks   map[string]*chatLock
	locksMu sync.Mutex
}

// NewConversationService creates a new conversation service. isOwner decides
// who may start the bot in an unknown conversation.
func NewConversationService(
	recorder *usecase.RecorderUsecase,
	reply *usecase.ReplyUsecase,
	convRepo repo.ConversationRepo,
	platform repo.PlatformRepo,
	tr repo.Translator,
	handle string,
	isOwner func(userID string) bool,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		recorder: recorder,
		reply:    reply,
		convRepo: convRepo,
		platform: platform,
		tr:       tr,
		handle:   handle,
		isOwner:  isOwner,
		logger:   logger.Named("conversation"),
		locks:    make(map[string]*chatLock),
	}
}

// HandleInboundMessage runs the full pipeline for one platform message:
// first contact, commands, recording, answering and reply persistence.
// Failures are logged, never returned.
func (s *ConversationService) HandleInboundMessage(ctx context.Context, ev *domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling message",
				zap.String("conversation_id", ev.ConversationID),
				zap.String("message_id", ev.MessageID),
				zap.Any("panic", r))
		}
	}()

	unlock := s.lock(ev.ConversationID)
	defer unlock()

	logger := s.logger.With(
		zap.String("conversation_id", ev.ConversationID),
		zap.String("message_id", ev.MessageID))

	conv, err := s.convRepo.Get(ctx, ev.ConversationID)
	if err != nil {
		logger.Error("failed to load conversation", zap.Error(err))
		return
	}

	command := s.parseCommand(ev.Content())
	if conv == nil {
		if command != CommandStart || !s.isOwner(ev.Author.ID) {
			logger.Debug("ignoring message from unknown conversation")
			return
		}
		if conv, err = s.recorder.CreateConversation(ctx, ev); err != nil {
			logger.Error("failed to create conversation", zap.Error(err))
			return
		}
		logger.Info("conversation started", zap.String("author_id", ev.Author.ID))
	}

	if command != "" {
		s.answerCommand(ctx, conv, ev, command)
		return
	}

	rec, err := s.recorder.Record(ctx, conv, ev)
	if err != nil {
		logger.Error("failed to record message", zap.Error(err))
		return
	}
	if rec.Replay {
		logger.Debug("message already handled")
		return
	}

	ans, err := s.reply.Answer(ctx, conv, rec)
	if err != nil {
		logger.Error("failed to answer", zap.Error(err))
		return
	}
	if ans == nil {
		return
	}

	sent, err := s.platform.SendMessage(ctx, conv.ID, ans.Text, repo.SendOptions{ReplyToMessageID: ev.MessageID})
	if err != nil {
		logger.Error("failed to send reply", zap.Error(err))
		return
	}
	if err := s.recorder.SaveReply(ctx, conv, sent, ans.Text, ev.MessageID, ans.IsFormal); err != nil {
		logger.Error("failed to save reply", zap.Error(err))
		return
	}
	logger.Info("replied",
		zap.Stringer("trigger", ans.Trigger),
		zap.Bool("formal", ans.IsFormal))
}

// answerCommand replies to /start and /help. Command answers are not stored.
func (s *ConversationService) answerCommand(ctx context.Context, conv *domain.Conversation, ev *domain.InboundEvent, command string) {
	formal := !conv.HasDescription()
	var key string
	switch {
	case command == CommandStart && formal:
		key = keyStartFormal
	case command == CommandStart:
		key = keyStart
	case formal:
		key = keyHelpFormal
	default:
		key = keyHelp
	}

	_, err := s.platform.SendMessage(ctx, conv.ID, s.tr.T(key, nil), repo.SendOptions{ReplyToMessageID: ev.MessageID})
	if err != nil {
		s.logger.Error("failed to answer command",
			zap.String("conversation_id", conv.ID),
			zap.String("command", command),
			zap.Error(err))
	}
}

// parseCommand returns the bot command the text consists of, if any.
// A leading mention of the persona and a "@handle" suffix are allowed.
func (s *ConversationService) parseCommand(text string) string {
	text = strings.TrimSpace(text)
	if s.handle != "" {
		text = strings.TrimSpace(strings.TrimPrefix(text, "@"+s.handle))
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	switch cmd {
	case CommandStart, CommandHelp:
		return cmd
	}
	return ""
}

// chatLock is dropped from the map once no handler holds or waits on it
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes handlers of one conversation and returns the release func
func (s *ConversationService) lock(conversationID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &chatLock{}
		s.locks[conversationID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.locksMu.Unlock()
	}
}
