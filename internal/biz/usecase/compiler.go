package usecase

import (
	"math/rand/v2"
	"strings"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// TokenEstimator approximates the token count of a text
type TokenEstimator func(text string) int

// EstimateTokens uses the 4-bytes-per-token heuristic
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Wakeup template names, under events.wakeup
const (
	WakeupQuestionForUser = "questionForUser"
	WakeupRememberJoke    = "rememberJoke"
	WakeupCreateFunFact   = "createFunFact"
	WakeupQuestionForAll  = "questionForAll"
	WakeupCreateJoke      = "createJoke"
)

// WakeupTemplates lists every wakeup template
var WakeupTemplates = []string{
	WakeupQuestionForUser,
	WakeupRememberJoke,
	WakeupCreateFunFact,
	WakeupQuestionForAll,
	WakeupCreateJoke,
}

// CompiledRequest is a backend-ready request: *ChatRequest or *CompletionRequest
type CompiledRequest interface {
	Type() domain.RequestType
	compiled()
}

// ChatRequest is a structured multi-turn request
type ChatRequest struct {
	Entries         []domain.ChatEntry
	MaxTokens       int
	EstimatedTokens int
}

func (*ChatRequest) Type() domain.RequestType { return domain.RequestTypeChat }
func (*ChatRequest) compiled()                {}

// CompletionRequest is a single-text completion request
type CompletionRequest struct {
	Prompt          string
	MaxTokens       int
	EstimatedTokens int
	Template        string // wakeup template, empty for answers
}

func (*CompletionRequest) Type() domain.RequestType { return domain.RequestTypeCompletion }
func (*CompletionRequest) compiled()                {}

// CompileInput is everything a prompt is compiled from
type CompileInput struct {
	Window        []domain.WindowEntry
	Persona       *domain.Persona
	Mode          domain.Mode
	MemberProfile string // wakeup only, empty when no member is resolvable
}

// PromptCompiler turns a window and a persona into a backend request within
// the token budget
type PromptCompiler struct {
	cfg      PipelineConfig
	tr       repo.Translator
	estimate TokenEstimator
	intn     func(n int) int
}

// NewPromptCompiler creates a compiler. A nil estimate uses EstimateTokens and
// a nil intn uses math/rand.
func NewPromptCompiler(cfg PipelineConfig, tr repo.Translator, estimate TokenEstimator, intn func(n int) int) *PromptCompiler {
	if estimate == nil {
		estimate = EstimateTokens
	}
	if intn == nil {
		intn = rand.IntN
	}
	return &PromptCompiler{cfg: cfg.WithDefaults(), tr: tr, estimate: estimate, intn: intn}
}

// Compile builds the request. Chat is used for formal answers, Completion for
// everything else. When the prompt leaves less than MinReplyTokens for the
// reply, the oldest window entries are dropped until it fits or one remains.
func (c *PromptCompiler) Compile(in CompileInput) CompiledRequest {
	if in.Mode == domain.ModeWakeup {
		return c.compileWakeup(in)
	}

	c.stripHandle(in.Window)
	window := in.Window
	for {
		req, estimated := c.compileWindow(window, in.Persona)
		remaining := c.cfg.MaxTokens - estimated
		if remaining >= c.cfg.MinReplyTokens || len(window) <= 1 {
			c.setBudget(req, estimated, remaining)
			return req
		}
		window = window[1:]
	}
}

func (c *PromptCompiler) compileWindow(window []domain.WindowEntry, persona *domain.Persona) (CompiledRequest, int) {
	if persona.IsFormal {
		entries := c.chatEntries(window, persona)
		estimated := 0
		for _, e := range entries {
			estimated += c.estimate(e.Content)
		}
		return &ChatRequest{Entries: entries}, estimated
	}

	var b strings.Builder
	b.WriteString(persona.Description)
	for i, e := range c.entries(window, persona) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Name + ": " + e.Content)
	}
	b.WriteString("\n" + persona.Name + " " + persona.RudeRequirement + ":")
	prompt := b.String()
	return &CompletionRequest{Prompt: prompt}, c.estimate(prompt)
}

// chatEntries renders the window as role-tagged entries. An informal persona
// gets its description as a leading assistant entry.
func (c *PromptCompiler) chatEntries(window []domain.WindowEntry, persona *domain.Persona) []domain.ChatEntry {
	entries := c.entries(window, persona)
	if persona.IsFormal || persona.Description == "" {
		return entries
	}
	lead := domain.ChatEntry{Role: domain.RoleAssistant, Name: persona.Name, Content: persona.Description}
	return append([]domain.ChatEntry{lead}, entries...)
}

func (c *PromptCompiler) entries(window []domain.WindowEntry, persona *domain.Persona) []domain.ChatEntry {
	entries := make([]domain.ChatEntry, 0, len(window))
	for _, w := range window {
		if w.Message == nil {
			continue
		}
		content := truncateRunes(w.Message.Content(), c.cfg.MessageCharLimit)
		if content == "" {
			continue
		}
		entry := domain.ChatEntry{Role: domain.RoleUser, Content: content}
		if w.Message.IsPersonaAuthor {
			entry.Role = domain.RoleAssistant
			entry.Name = persona.Name
		} else {
			entry.Name = c.DisplayName(w.Author, w.Message.AuthorID)
		}
		entries = append(entries, entry)
	}
	return entries
}

func (c *PromptCompiler) compileWakeup(in CompileInput) CompiledRequest {
	template := WakeupCreateJoke
	switch c.intn(len(WakeupTemplates)) {
	case 0:
		if in.MemberProfile != "" {
			template = WakeupQuestionForUser
		}
	case 1:
		template = WakeupRememberJoke
	case 2:
		template = WakeupCreateFunFact
	case 3:
		template = WakeupQuestionForAll
	}

	formal := ""
	if !in.Persona.IsFormal {
		formal = c.tr.T(keyInformalRef, nil)
	}
	prompt := c.tr.T(keyWakeupPrefix+template, map[string]string{
		"description":     in.Persona.Description,
		"formal":          formal,
		"rude":            in.Persona.RudeRequirement,
		"userDescription": in.MemberProfile,
	})

	req := &CompletionRequest{Prompt: prompt, Template: template}
	estimated := c.estimate(prompt)
	c.setBudget(req, estimated, c.cfg.MaxTokens-estimated)
	return req
}

// MemberProfile describes a member through their own recent messages.
// Returns "" when the member has no real name or no messages.
func (c *PromptCompiler) MemberProfile(user *domain.User, msgs []*domain.Message) string {
	if user == nil || len(msgs) == 0 {
		return ""
	}
	name, ok := user.RealName()
	if !ok {
		return ""
	}
	quotes := make([]string, 0, len(msgs))
	for _, m := range msgs {
		quotes = append(quotes, `"`+m.Content()+`"`)
	}
	return name + ". " + c.tr.T(keyUserQuotesTransition, nil) + " " + name + ":\n\n " + strings.Join(quotes, "\n")
}

// DisplayName names a non-persona author: real name if known, else a
// deterministic pick from the localized default-name pool
func (c *PromptCompiler) DisplayName(user *domain.User, authorID string) string {
	if user != nil {
		if name, ok := user.RealName(); ok {
			return name
		}
		authorID = user.ID
	}

	pool := c.tr.List(keyDefaultNames)
	if len(pool) < 4 {
		return authorID
	}
	d := lastDigit(authorID)
	switch {
	case d%3 == 0:
		return pool[0]
	case d%2 == 0:
		return pool[1]
	case d%5 == 0:
		return pool[2]
	default:
		return pool[3]
	}
}

// stripHandle removes the first literal "@handle" from each message, in place
func (c *PromptCompiler) stripHandle(window []domain.WindowEntry) {
	if c.cfg.PersonaHandle == "" {
		return
	}
	handle := "@" + c.cfg.PersonaHandle
	for _, w := range window {
		if w.Message == nil {
			continue
		}
		if content := w.Message.Content(); strings.Contains(content, handle) {
			w.Message.SetContent(strings.Replace(content, handle, "", 1))
		}
	}
}

func (c *PromptCompiler) setBudget(req CompiledRequest, estimated, remaining int) {
	if remaining < c.cfg.MinReplyTokens {
		remaining = c.cfg.MinReplyTokens
	}
	switch r := req.(type) {
	case *ChatRequest:
		r.MaxTokens, r.EstimatedTokens = remaining, estimated
	case *CompletionRequest:
		r.MaxTokens, r.EstimatedTokens = remaining, estimated
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// lastDigit returns the last decimal digit in id, 0 if there is none
func lastDigit(id string) int {
	r := []rune(id)
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] >= '0' && r[i] <= '9' {
			return int(r[i] - '0')
		}
	}
	return 0
}
