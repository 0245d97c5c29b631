package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

func TestTriggerClassifier_Classify(t *testing.T) {
	c := NewTriggerClassifier(testConfig())

	tests := []struct {
		name    string
		msg     *domain.Message
		replied bool
		want    domain.Trigger
	}{
		{"empty text", &domain.Message{Type: domain.MessageTypeText}, false, domain.TriggerNone},
		{"photo without caption", &domain.Message{Type: domain.MessageTypePhoto, Caption: "x"}, true, domain.TriggerNone},
		{"sticker", &domain.Message{Type: domain.MessageTypeSticker, Text: "hi"}, false, domain.TriggerNone},
		{"reply beats mention", &domain.Message{Type: domain.MessageTypeText, Text: "@PersonaBot hi"}, true, domain.TriggerReplyToPersona},
		{"reply without mention", &domain.Message{Type: domain.MessageTypeText, Text: "sure"}, true, domain.TriggerReplyToPersona},
		{"formal mention any case", &domain.Message{Type: domain.MessageTypeText, Text: "hey PERSONA BOT, help"}, false, domain.TriggerMention},
		{"informal mention in caption", &domain.Message{Type: domain.MessageTypePhotoCaption, Caption: "look, Uncle Vova!"}, false, domain.TriggerMention},
		{"plain chatter", &domain.Message{Type: domain.MessageTypeText, Text: "what about lunch"}, false, domain.TriggerAmbient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.msg, tt.replied))
		})
	}
}

func TestTriggerClassifier_MentionRegisters(t *testing.T) {
	c := NewTriggerClassifier(testConfig())

	assert.True(t, c.HasFormalMention("ask @personabot"))
	assert.False(t, c.HasInformalMention("ask @personabot"))
	assert.True(t, c.HasInformalMention("VOVAN where are you"))
	assert.False(t, c.HasMention("nobody here"))
}

func ambientWindow(long, short int, longText string) []domain.WindowEntry {
	now := time.Now()
	var window []domain.WindowEntry
	for i := 0; i < long; i++ {
		window = append(window, domain.WindowEntry{Message: textMsg("l", "u", longText, now)})
	}
	for i := 0; i < short; i++ {
		window = append(window, domain.WindowEntry{Message: textMsg("s", "u", "ok", now)})
	}
	return window
}

func TestTriggerClassifier_ShouldInterject(t *testing.T) {
	c := NewTriggerClassifier(testConfig())
	long := strings.Repeat("a", 21)

	assert.False(t, c.ShouldInterject(ambientWindow(14, 16, long)), "14 of 30 long messages must not fire")
	assert.True(t, c.ShouldInterject(ambientWindow(15, 15, long)), "exactly 15 long messages must fire")
	assert.False(t, c.ShouldInterject(ambientWindow(30, 0, strings.Repeat("a", 20))), "20 characters is not long")
}

func TestTriggerClassifier_ShouldInterjectCountsCodePoints(t *testing.T) {
	c := NewTriggerClassifier(testConfig())

	// 20 Cyrillic letters are 40 bytes but only 20 code points
	assert.False(t, c.ShouldInterject(ambientWindow(15, 0, strings.Repeat("я", 20))))
	assert.True(t, c.ShouldInterject(ambientWindow(15, 0, strings.Repeat("я", 21))))
}

func TestTriggerClassifier_ShouldInterjectCountsCaptions(t *testing.T) {
	c := NewTriggerClassifier(testConfig())
	var window []domain.WindowEntry
	for i := 0; i < 15; i++ {
		window = append(window, domain.WindowEntry{Message: &domain.Message{
			Type:    domain.MessageTypePhotoCaption,
			Caption: strings.Repeat("c", 25),
		}})
	}
	assert.True(t, c.ShouldInterject(window))
}
