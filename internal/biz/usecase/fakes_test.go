package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// In-memory implementations of the repo interfaces

type fakeConvRepo struct {
	mu        sync.Mutex
	convs     map[string]*domain.Conversation
	conflicts int // Update calls to fail with ErrConflict before succeeding
	updates   int
}

func newFakeConvRepo(convs ...*domain.Conversation) *fakeConvRepo {
	r := &fakeConvRepo{convs: make(map[string]*domain.Conversation)}
	for _, c := range convs {
		cp := c.Clone()
		if cp.Version == 0 {
			cp.Version = 1
		}
		r.convs[c.ID] = cp
	}
	return r
}

func (r *fakeConvRepo) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (r *fakeConvRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conv.ID]; ok {
		return repo.ErrDuplicate
	}
	conv.Version = 1
	r.convs[conv.ID] = conv.Clone()
	return nil
}

func (r *fakeConvRepo) Update(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	stored, ok := r.convs[conv.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		// simulate a concurrent writer adding a member
		stored.MergeMembers("ou_concurrent")
		stored.Version++
		return repo.ErrConflict
	}
	if stored.Version != conv.Version {
		return repo.ErrConflict
	}
	conv.Version++
	r.convs[conv.ID] = conv.Clone()
	return nil
}

func (r *fakeConvRepo) ListWakeEnabled(ctx context.Context) ([]*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Conversation
	for _, c := range r.convs {
		if c.WakeEnabled {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	updates int
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *fakeUserRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return repo.ErrDuplicate
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	msgs     []*domain.Message
	scramble bool // return ListRecent results oldest first instead of newest first
	creates  int
}

func (r *fakeMessageRepo) add(msgs ...*domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *fakeMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	for _, m := range r.msgs {
		if m.ConversationID == msg.ConversationID && m.ID == msg.ID {
			return repo.ErrDuplicate
		}
	}
	cp := *msg
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *fakeMessageRepo) GetByConversationAndID(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && m.ID == messageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) GetLast(ctx context.Context, conversationID string) (*domain.Message, error) {
	return r.last(conversationID, false)
}

func (r *fakeMessageRepo) GetLastPersona(ctx context.Context, conversationID string) (*domain.Message, error) {
	return r.last(conversationID, true)
}

func (r *fakeMessageRepo) last(conversationID string, personaOnly bool) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Message
	for _, m := range r.msgs {
		if m.ConversationID != conversationID || (personaOnly && !m.IsPersonaAuthor) {
			continue
		}
		if best == nil || m.Timestamp.After(best.Timestamp) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *fakeMessageRepo) ListRecent(ctx context.Context, q repo.MessageQuery) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.msgs {
		if m.ConversationID != q.ConversationID {
			continue
		}
		if !q.Since.IsZero() && m.Timestamp.Before(q.Since) {
			continue
		}
		if q.AuthorID != "" && m.AuthorID != q.AuthorID {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, m.Type) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if r.scramble {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		if len(out) > 2 {
			out[0], out[len(out)/2] = out[len(out)/2], out[0]
		}
	}
	return out, nil
}

func containsType(types []domain.MessageType, t domain.MessageType) bool {
	for _, tt := range types {
		if tt == t {
			return true
		}
	}
	return false
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	audits []*domain.GenerationAudit
	err    error
}

func (r *fakeAuditRepo) Create(ctx context.Context, a *domain.GenerationAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, a)
	return r.err
}

func (r *fakeAuditRepo) ListRecent(ctx context.Context, limit int) ([]*domain.GenerationAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.audits) {
		limit = len(r.audits)
	}
	return r.audits[len(r.audits)-limit:], nil
}

type generatorCall struct {
	typ       domain.RequestType
	entries   []domain.ChatEntry
	prompt    string
	maxTokens int
}

type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []generatorCall
}

func (g *fakeGenerator) ChatComplete(ctx context.Context, entries []domain.ChatEntry, maxTokens int) (*domain.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generatorCall{typ: domain.RequestTypeChat, entries: entries, maxTokens: maxTokens})
	if g.err != nil {
		return nil, g.err
	}
	return &domain.Generation{Text: g.text, Model: "chat-model"}, nil
}

func (g *fakeGenerator) TextComplete(ctx context.Context, prompt string, maxTokens int) (*domain.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generatorCall{typ: domain.RequestTypeCompletion, prompt: prompt, maxTokens: maxTokens})
	if g.err != nil {
		return nil, g.err
	}
	return &domain.Generation{Text: g.text, Model: "completion-model"}, nil
}

type sentText struct {
	conversationID string
	text           string
	replyTo        string
}

type fakePlatform struct {
	mu   sync.Mutex
	sent []sentText
	err  error
	now  time.Time
}

func (p *fakePlatform) SendMessage(ctx context.Context, conversationID, text string, opts repo.SendOptions) (*repo.SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.sent = append(p.sent, sentText{conversationID: conversationID, text: text, replyTo: opts.ReplyToMessageID})
	return &repo.SentMessage{
		MessageID:      "om_sent_" + string(rune('a'+len(p.sent))),
		ConversationID: conversationID,
		AuthorID:       testPersonaID,
		Timestamp:      p.now,
	}, nil
}

type fakeTranslator struct{}

func (fakeTranslator) T(key string, args map[string]string) string {
	switch key {
	case keyFormalName:
		return "Assistant"
	case keyQuotesTransition:
		return "His quotes"
	case keyRudeRequirements:
		return "be rude"
	case keyInformalRef:
		return "informally"
	case keyUserQuotesTransition:
		return "Quotes of"
	}
	if strings.HasPrefix(key, keyWakeupPrefix) {
		return strings.Join([]string{
			strings.TrimPrefix(key, keyWakeupPrefix),
			args["description"], args["formal"], args["rude"], args["userDescription"],
		}, "|")
	}
	return key
}

func (fakeTranslator) List(key string) []string {
	if key == keyDefaultNames {
		return []string{"Anon0", "Anon1", "Anon2", "Anon3"}
	}
	return nil
}

var errBackend = errors.New("backend unavailable")

const (
	testPersonaID = "cli_persona"
	testConvID    = "oc_chat"
)

func testConfig() PipelineConfig {
	return PipelineConfig{
		PersonaID:        testPersonaID,
		PersonaName:      "Uncle Vova",
		PersonaHandle:    "PersonaBot",
		FormalMentions:   []string{"@PersonaBot", "persona bot"},
		InformalMentions: []string{"uncle vova", "vovan"},
	}.WithDefaults()
}

// pipeline bundles a fully wired set of usecases over fakes
type pipeline struct {
	convs     *fakeConvRepo
	users     *fakeUserRepo
	msgs      *fakeMessageRepo
	audits    *fakeAuditRepo
	gen       *fakeGenerator
	platform  *fakePlatform
	compiler  *PromptCompiler
	recorder  *RecorderUsecase
	reply     *ReplyUsecase
	wake      *WakeUsecase
	templates []int // queued intn results for the compiler
}

func newPipeline(convs ...*domain.Conversation) *pipeline {
	p := &pipeline{
		convs:    newFakeConvRepo(convs...),
		users:    newFakeUserRepo(),
		msgs:     &fakeMessageRepo{},
		audits:   &fakeAuditRepo{},
		gen:      &fakeGenerator{text: " generated reply "},
		platform: &fakePlatform{now: time.Now()},
	}
	cfg := testConfig()
	logger := zap.NewNop()
	tr := fakeTranslator{}

	intn := func(n int) int {
		if len(p.templates) == 0 {
			return n - 1
		}
		v := p.templates[0]
		p.templates = p.templates[1:]
		return v
	}

	windows := NewContextWindowBuilder(p.msgs, p.users)
	personas := NewPersonaResolver(cfg, tr)
	p.compiler = NewPromptCompiler(cfg, tr, EstimateTokens, intn)
	dispatcher := NewGenerationDispatcher(p.gen, p.audits, logger)
	p.recorder = NewRecorderUsecase(p.convs, p.users, p.msgs, cfg, logger)
	p.reply = NewReplyUsecase(NewTriggerClassifier(cfg), windows, personas, p.compiler, dispatcher, p.msgs, cfg, logger)
	p.wake = NewWakeUsecase(p.convs, p.msgs, p.users, p.platform, windows, personas, p.compiler, dispatcher,
		p.recorder, cfg, 72*time.Hour, func(n int) int { return 0 }, logger)
	return p
}

func textMsg(id, author, text string, ts time.Time) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: testConvID,
		AuthorID:       author,
		Text:           text,
		Type:           domain.MessageTypeText,
		Timestamp:      ts,
	}
}

func boolPtr(b bool) *bool { return &b }
