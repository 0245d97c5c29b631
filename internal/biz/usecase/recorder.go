package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// Recorded is the stored view of one inbound event
type Recorded struct {
	Message *domain.Message
	Replied *domain.Message // nil when not a reply or the target is unknown
	Replay  bool            // the message was already stored
}

// RecorderUsecase persists what the bot observes: conversations, members,
// users and messages
type RecorderUsecase struct {
	convRepo    repo.ConversationRepo
	userRepo    repo.UserRepo
	messageRepo repo.MessageRepo
	persona     domain.Author
	logger      *zap.Logger
	now         func() time.Time
}

// NewRecorderUsecase creates a new recorder usecase
func NewRecorderUsecase(
	convRepo repo.ConversationRepo,
	userRepo repo.UserRepo,
	messageRepo repo.MessageRepo,
	cfg PipelineConfig,
	logger *zap.Logger,
) *RecorderUsecase {
	cfg = cfg.WithDefaults()
	return &RecorderUsecase{
		convRepo:    convRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		persona:     domain.Author{ID: cfg.PersonaID, Username: cfg.PersonaHandle, IsBot: true},
		logger:      logger.Named("recorder"),
		now:         time.Now,
	}
}

// CreateConversation stores a conversation on first contact with the author
// as its only member
func (uc *RecorderUsecase) CreateConversation(ctx context.Context, ev *domain.InboundEvent) (*domain.Conversation, error) {
	now := uc.now()
	conv := domain.NewConversation(ev.ConversationID, ev.ChatTitle, ev.ChatType, ev.Author.ID, now)
	if err := uc.convRepo.Create(ctx, conv); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		// lost a race with a concurrent first contact
		return uc.convRepo.Get(ctx, ev.ConversationID)
	}
	if err := uc.upsertUser(ctx, &ev.Author, now); err != nil {
		uc.logger.Warn("failed to upsert author", zap.String("user_id", ev.Author.ID), zap.Error(err))
	}
	return conv, nil
}

type recordStep struct {
	name string
	run  func(ctx context.Context) error
}

// Record persists one inbound event. Member, user and reply-target writes
// are best effort, each isolated from the others. The message itself is
// created only if not already stored; a replay is reported, not an error.
func (uc *RecorderUsecase) Record(ctx context.Context, conv *domain.Conversation, ev *domain.InboundEvent) (*Recorded, error) {
	now := uc.now()
	rec := &Recorded{}

	authors := []*domain.Author{&ev.Author}
	if ev.ReplyTo != nil && ev.ReplyTo.Author.ID != "" {
		authors = append(authors, &ev.ReplyTo.Author)
	}

	steps := []recordStep{
		{"members", func(ctx context.Context) error {
			ids := make([]string, 0, len(authors))
			for _, a := range authors {
				ids = append(ids, a.ID)
			}
			return uc.mergeMembers(ctx, conv, ids...)
		}},
		{"users", func(ctx context.Context) error {
			var errs []error
			for _, a := range authors {
				if err := uc.upsertUser(ctx, a, now); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}},
		{"replied", func(ctx context.Context) error {
			replied, err := uc.repliedMessage(ctx, ev, now)
			rec.Replied = replied
			return err
		}},
	}
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			uc.logger.Warn("record step failed",
				zap.String("step", s.name),
				zap.String("conversation_id", ev.ConversationID),
				zap.String("message_id", ev.MessageID),
				zap.Error(err))
		}
	}

	existing, err := uc.messageRepo.GetByConversationAndID(ctx, ev.ConversationID, ev.MessageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if existing != nil {
		rec.Message, rec.Replay = existing, true
		return rec, nil
	}

	msg := ev.ToMessage(now)
	if err := uc.messageRepo.Create(ctx, msg); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			rec.Message, rec.Replay = msg, true
			return rec, nil
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	rec.Message = msg
	return rec, nil
}

// SaveReply stores a message the persona sent and makes sure the persona is
// a known user and a member of the conversation
func (uc *RecorderUsecase) SaveReply(ctx context.Context, conv *domain.Conversation, sent *repo.SentMessage, text, replyToID string, isFormal bool) error {
	now := uc.now()
	ts := sent.Timestamp
	if ts.IsZero() {
		ts = now
	}
	formal := isFormal
	msg := &domain.Message{
		ID:              sent.MessageID,
		ConversationID:  conv.ID,
		AuthorID:        uc.persona.ID,
		Text:            text,
		Type:            domain.MessageTypeText,
		ReplyToID:       replyToID,
		IsPersonaAuthor: true,
		IsFormalReply:   &formal,
		Timestamp:       ts,
		CreatedAt:       now,
	}
	if err := uc.messageRepo.Create(ctx, msg); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return fmt.Errorf("create reply message: %w", err)
	}

	existing, err := uc.userRepo.Get(ctx, uc.persona.ID)
	if err != nil {
		uc.logger.Warn("failed to get persona user", zap.Error(err))
	} else if existing == nil {
		if err := uc.userRepo.Create(ctx, uc.persona.ToUser(now)); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			uc.logger.Warn("failed to create persona user", zap.Error(err))
		}
	}

	if err := uc.mergeMembers(ctx, conv, uc.persona.ID); err != nil {
		uc.logger.Warn("failed to add persona membership",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return nil
}

// mergeMembers unions ids into the stored member set and refreshes conv
func (uc *RecorderUsecase) mergeMembers(ctx context.Context, conv *domain.Conversation, ids ...string) error {
	if !conv.Clone().MergeMembers(ids...) {
		return nil
	}
	updated, err := updateConversation(ctx, uc.convRepo, conv.ID, func(c *domain.Conversation) bool {
		if !c.MergeMembers(ids...) {
			return false
		}
		c.UpdatedAt = uc.now()
		return true
	})
	if err != nil {
		return err
	}
	*conv = *updated
	return nil
}

// upsertUser creates the user on first sight and patches display names when
// they diverge. Authors observed without any name never erase stored names.
func (uc *RecorderUsecase) upsertUser(ctx context.Context, a *domain.Author, now time.Time) error {
	if a.ID == "" {
		return nil
	}
	user, err := uc.userRepo.Get(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		if err := uc.userRepo.Create(ctx, a.ToUser(now)); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	}
	if a.FirstName == "" && a.LastName == "" && a.Username == "" {
		return nil
	}
	if !user.DiffersFrom(a) {
		return nil
	}
	user.FirstName, user.LastName, user.Username = a.FirstName, a.LastName, a.Username
	user.UpdatedAt = now
	if err := uc.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// repliedMessage loads the reply target, backfilling it from the event's
// snapshot when it was never stored
func (uc *RecorderUsecase) repliedMessage(ctx context.Context, ev *domain.InboundEvent, now time.Time) (*domain.Message, error) {
	if ev.ReplyToID == "" {
		return nil, nil
	}
	stored, err := uc.messageRepo.GetByConversationAndID(ctx, ev.ConversationID, ev.ReplyToID)
	if err != nil {
		return nil, fmt.Errorf("get replied message: %w", err)
	}
	if stored != nil || ev.ReplyTo == nil {
		return stored, nil
	}

	backfill := ev.ReplyTo.ToMessage(now)
	backfill.ConversationID = ev.ConversationID
	backfill.IsPersonaAuthor = backfill.AuthorID != "" && backfill.AuthorID == uc.persona.ID
	if err := uc.messageRepo.Create(ctx, backfill); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		// the snapshot is still usable for this run
		return backfill, fmt.Errorf("backfill replied message: %w", err)
	}
	return backfill, nil
}
