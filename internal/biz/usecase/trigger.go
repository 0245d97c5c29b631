package usecase

import (
	"strings"
	"unicode/utf8"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

// TriggerClassifier decides why, if at all, the persona should answer a message.
// Mention variants are fixed at construction.
type TriggerClassifier struct {
	formal   []string
	informal []string
	everyNth int
	minLen   int
}

// NewTriggerClassifier creates a classifier from the pipeline configuration
func NewTriggerClassifier(cfg PipelineConfig) *TriggerClassifier {
	cfg = cfg.WithDefaults()
	return &TriggerClassifier{
		formal:   lowerAll(cfg.FormalMentions),
		informal: lowerAll(cfg.InformalMentions),
		everyNth: cfg.AmbientEveryNth,
		minLen:   cfg.AmbientMinLength,
	}
}

// Classify maps a message to exactly one trigger. Replies to the persona win
// over mentions. TriggerAmbient is only a candidate: the caller must confirm
// it with ShouldInterject over the ambient window.
func (c *TriggerClassifier) Classify(msg *domain.Message, repliedToPersona bool) domain.Trigger {
	text := msg.Content()
	if text == "" || !msg.Type.IsTextBearing() {
		return domain.TriggerNone
	}
	if repliedToPersona {
		return domain.TriggerReplyToPersona
	}
	if c.HasMention(text) {
		return domain.TriggerMention
	}
	return domain.TriggerAmbient
}

// HasMention checks for any formal or informal variant, case-insensitively
func (c *TriggerClassifier) HasMention(text string) bool {
	return c.HasFormalMention(text) || c.HasInformalMention(text)
}

// HasFormalMention checks for a formal name variant
func (c *TriggerClassifier) HasFormalMention(text string) bool {
	return containsAny(strings.ToLower(text), c.formal)
}

// HasInformalMention checks for an informal nickname variant
func (c *TriggerClassifier) HasInformalMention(text string) bool {
	return containsAny(strings.ToLower(text), c.informal)
}

// ShouldInterject reports whether enough long messages accumulated in the
// ambient window to justify an unprompted answer
func (c *TriggerClassifier) ShouldInterject(window []domain.WindowEntry) bool {
	long := 0
	for _, e := range window {
		if e.Message == nil {
			continue
		}
		if utf8.RuneCountInString(e.Message.Text) > c.minLen ||
			utf8.RuneCountInString(e.Message.Caption) > c.minLen {
			long++
		}
	}
	return long >= c.everyNth
}

func containsAny(text string, variants []string) bool {
	for _, v := range variants {
		if v != "" && strings.Contains(text, v) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
