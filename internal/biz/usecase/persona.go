package usecase

import (
	"strings"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
)

// Locale keys
const (
	keyFormalName           = "events.aiFormalName"
	keyDefaultNames         = "events.defaultNames"
	keyQuotesTransition     = "events.hisQuotesTransition"
	keyRudeRequirements     = "events.rudeRequirements"
	keyWakeupPrefix         = "events.wakeup."
	keyUserQuotesTransition = "events.wakeup.userQuotesTransition"
	keyInformalRef          = "events.wakeup.informalRef"
)

// PersonaResolver derives the response identity from conversation state.
// It performs no I/O.
type PersonaResolver struct {
	name string
	tr   repo.Translator
}

// NewPersonaResolver creates a resolver for the configured persona name
func NewPersonaResolver(cfg PipelineConfig, tr repo.Translator) *PersonaResolver {
	return &PersonaResolver{name: cfg.WithDefaults().PersonaName, tr: tr}
}

// Resolve returns the formal persona when the conversation has no
// description, the configured character otherwise
func (r *PersonaResolver) Resolve(conv *domain.Conversation) *domain.Persona {
	if conv == nil || !conv.HasDescription() {
		return r.Formal()
	}

	var b strings.Builder
	b.WriteString(r.name)
	b.WriteString(" - ")
	b.WriteString(conv.Description)
	b.WriteString(".")
	if conv.HasQuotes() {
		b.WriteString(" ")
		b.WriteString(r.tr.T(keyQuotesTransition, nil))
		b.WriteString(":\n\n")
		for i, q := range conv.Quotes {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(`"` + q + `"`)
		}
	}
	b.WriteString("\n\n")

	p := &domain.Persona{
		Name:        r.name,
		Description: b.String(),
		HasQuotes:   conv.HasQuotes(),
	}
	if conv.IsRude {
		p.RudeRequirement = "(" + r.tr.T(keyRudeRequirements, nil) + ")"
	}
	return p
}

// Formal returns the generic assistant persona
func (r *PersonaResolver) Formal() *domain.Persona {
	return &domain.Persona{
		IsFormal: true,
		Name:     r.tr.T(keyFormalName, nil),
	}
}

// AllowsInformal reports whether the window permits answering in character:
// the conversation must configure a character, and the persona must either
// have answered informally in the window or not appear in it at all
func (r *PersonaResolver) AllowsInformal(conv *domain.Conversation, window []domain.WindowEntry) bool {
	if !conv.HasDescription() && !conv.HasQuotes() {
		return false
	}
	personaSeen := false
	for _, e := range window {
		if e.Message == nil || !e.Message.IsPersonaAuthor {
			continue
		}
		if e.Message.IsInformalReply() {
			return true
		}
		personaSeen = true
	}
	return !personaSeen
}

// ResolveRegister resolves the character when informal is true and the
// formal persona otherwise
func (r *PersonaResolver) ResolveRegister(conv *domain.Conversation, informal bool) *domain.Persona {
	if !informal {
		return r.Formal()
	}
	return r.Resolve(conv)
}
