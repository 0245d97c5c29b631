package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz"
	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
	"github.com/devricklin/feishu-persona-bot/internal/data"
	"github.com/devricklin/feishu-persona-bot/internal/i18n"
)

type stubGenerator struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (g *stubGenerator) ChatComplete(ctx context.Context, entries []domain.ChatEntry, maxTokens int) (*domain.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &domain.Generation{Text: g.text, Model: "chat"}, nil
}

func (g *stubGenerator) TextComplete(ctx context.Context, prompt string, maxTokens int) (*domain.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &domain.Generation{Text: g.text, Model: "completion"}, nil
}

type sent struct {
	conversationID string
	text           string
	replyTo        string
}

type stubPlatform struct {
	mu   sync.Mutex
	sent []sent
}

func (p *stubPlatform) SendMessage(ctx context.Context, conversationID, text string, opts repo.SendOptions) (*repo.SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{conversationID, text, opts.ReplyToMessageID})
	return &repo.SentMessage{
		MessageID:      "om_bot_" + time.Now().Format("150405.000000000"),
		ConversationID: conversationID,
		AuthorID:       "cli_app",
		Timestamp:      time.Now(),
	}, nil
}

func (p *stubPlatform) messages() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.sent...)
}

type serviceFixture struct {
	svc       *ConversationService
	convs     repo.ConversationRepo
	messages  repo.MessageRepo
	generator *stubGenerator
	platform  *stubPlatform
	tr        *i18n.Translator
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := data.OpenStore(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tr, err := i18n.New("en", "")
	require.NoError(t, err)

	f := &serviceFixture{
		convs:     data.NewConversationRepo(db),
		messages:  data.NewMessageRepo(db),
		generator: &stubGenerator{text: " sure thing "},
		platform:  &stubPlatform{},
		tr:        tr,
	}
	cfg := usecase.PipelineConfig{
		PersonaID:        "cli_app",
		PersonaHandle:    "persona",
		FormalMentions:   []string{"@persona"},
		InformalMentions: []string{"uncle vova"},
	}
	ucs := biz.NewUsecases(biz.Deps{
		Conversations: f.convs,
		Users:         data.NewUserRepo(db),
		Messages:      f.messages,
		Audits:        data.NewAuditRepo(db),
		Generator:     f.generator,
		Platform:      f.platform,
		Translator:    tr,
	}, cfg, 72*time.Hour, zap.NewNop())

	isOwner := func(id string) bool { return id == "ou_owner" }
	f.svc = NewConversationService(ucs.Recorder, ucs.Reply, f.convs, f.platform, tr, "persona", isOwner, zap.NewNop())
	return f
}

func event(chatID, msgID, authorID, text string) *domain.InboundEvent {
	return &domain.InboundEvent{
		ConversationID: chatID,
		ChatType:       domain.ChatTypeGroup,
		ChatTitle:      "team",
		MessageID:      msgID,
		Author:         domain.Author{ID: authorID, Username: authorID},
		Text:           text,
		Type:           domain.MessageTypeText,
		Timestamp:      time.Now(),
	}
}

func TestHandleInboundMessage_UnknownConversationIgnored(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.svc.HandleInboundMessage(ctx, event("oc_1", "om_1", "ou_stranger", "/start"))
	f.svc.HandleInboundMessage(ctx, event("oc_1", "om_2", "ou_owner", "@persona hello"))

	conv, err := f.convs.Get(ctx, "oc_1")
	require.NoError(t, err)
	assert.Nil(t, conv)
	assert.Empty(t, f.platform.messages())
	assert.Zero(t, f.generator.calls)
}

func TestHandleInboundMessage_OwnerStart(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.svc.HandleInboundMessage(ctx, event("oc_1", "om_1", "ou_owner", "/start"))

	conv, err := f.convs.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, []string{"ou_owner"}, conv.MemberIDs)

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent{"oc_1", f.tr.T("events.startFormal", nil), "om_1"}, msgs[0])

	// command answers are not stored
	last, err := f.messages.GetLast(ctx, "oc_1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestHandleInboundMessage_HelpUsesRegister(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conv := domain.NewConversation("oc_1", "team", domain.ChatTypeGroup, "ou_owner", time.Now())
	conv.Description = "a grumpy neighbour"
	require.NoError(t, f.convs.Create(ctx, conv))

	f.svc.HandleInboundMessage(ctx, event("oc_1", "om_1", "ou_alice", "@persona /help"))

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, f.tr.T("events.help", nil), msgs[0].text)
}

func TestHandleInboundMessage_MentionReplies(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conv := domain.NewConversation("oc_1", "team", domain.ChatTypeGroup, "ou_owner", time.Now())
	require.NoError(t, f.convs.Create(ctx, conv))

	ev := event("oc_1", "om_1", "ou_alice", "@persona what time is it?")
	f.svc.HandleInboundMessage(ctx, ev)

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent{"oc_1", "sure thing", "om_1"}, msgs[0])

	reply, err := f.messages.GetLastPersona(ctx, "oc_1")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "sure thing", reply.Content())
	assert.Equal(t, "om_1", reply.ReplyToID)

	stored, err := f.convs.Get(ctx, "oc_1")
	require.NoError(t, err)
	assert.True(t, stored.HasMember("ou_alice"))

	// redelivery of the same platform message is not answered twice
	f.svc.HandleInboundMessage(ctx, ev)
	assert.Len(t, f.platform.messages(), 1)
	assert.Equal(t, 1, f.generator.calls)
}

func TestHandleInboundMessage_SilentWithoutTrigger(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conv := domain.NewConversation("oc_1", "team", domain.ChatTypeGroup, "ou_owner", time.Now())
	require.NoError(t, f.convs.Create(ctx, conv))

	f.svc.HandleInboundMessage(ctx, event("oc_1", "om_1", "ou_alice", "ok"))

	assert.Empty(t, f.platform.messages())
	last, err := f.messages.GetLast(ctx, "oc_1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "om_1", last.ID)
}

func (s *ConversationService) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func TestConversationLock_SerializesAndReleases(t *testing.T) {
	s := &ConversationService{locks: make(map[string]*chatLock)}

	unlock := s.lock("oc_1")
	acquired := make(chan struct{})
	go func() {
		release := s.lock("oc_1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second handler entered while the first held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	other := s.lock("oc_2")
	assert.Equal(t, 2, s.lockCount())
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second handler never acquired the lock")
	}

	assert.Eventually(t, func() bool { return s.lockCount() == 0 }, time.Second, 5*time.Millisecond,
		"locks are dropped once released")
}

func TestParseCommand(t *testing.T) {
	svc := &ConversationService{handle: "persona"}

	tests := []struct {
		text string
		want string
	}{
		{"/start", CommandStart},
		{"  /help  ", CommandHelp},
		{"/start@persona", CommandStart},
		{"@persona /help", CommandHelp},
		{"/stop", ""},
		{"hello /start", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.parseCommand(tt.text), "parseCommand(%q)", tt.text)
	}
}
