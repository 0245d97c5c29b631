package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

func recordAndAnswer(t *testing.T, p *pipeline, ev *domain.InboundEvent) *Answer {
	t.Helper()
	ctx := context.Background()
	conv, err := p.convs.Get(ctx, ev.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	rec, err := p.recorder.Record(ctx, conv, ev)
	require.NoError(t, err)
	ans, err := p.reply.Answer(ctx, conv, rec)
	require.NoError(t, err)
	return ans
}

func TestReply_InformalMentionUsesCompletion(t *testing.T) {
	conv := &domain.Conversation{
		ID:          testConvID,
		ChatType:    domain.ChatTypeGroup,
		Description: "a grumpy old man",
		IsRude:      false,
	}
	p := newPipeline(conv)

	ans := recordAndAnswer(t, p, inbound("om_1", "ou_2", "uncle vova, tell a story", time.Now()))
	require.NotNil(t, ans)
	assert.Equal(t, "generated reply", ans.Text)
	assert.False(t, ans.IsFormal)
	assert.Equal(t, domain.TriggerMention, ans.Trigger)

	require.Len(t, p.gen.calls, 1)
	call := p.gen.calls[0]
	assert.Equal(t, domain.RequestTypeCompletion, call.typ)
	assert.True(t, strings.HasPrefix(call.prompt, "Uncle Vova - a grumpy old man.\n\n"), call.prompt)
	assert.True(t, strings.HasSuffix(call.prompt, "user-ou_2: uncle vova, tell a story\nUncle Vova :"), call.prompt)
}

func TestReply_FormalMentionOverridesCharacter(t *testing.T) {
	conv := &domain.Conversation{ID: testConvID, Description: "a grumpy old man", IsRude: true}
	p := newPipeline(conv)

	ans := recordAndAnswer(t, p, inbound("om_1", "ou_2", "@PersonaBot what time is it", time.Now()))
	require.NotNil(t, ans)
	assert.True(t, ans.IsFormal)

	require.Len(t, p.gen.calls, 1)
	want := []domain.ChatEntry{{Role: domain.RoleUser, Name: "user-ou_2", Content: " what time is it"}}
	if diff := cmp.Diff(want, p.gen.calls[0].entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReply_FormalReplyToPersonaUsesChat(t *testing.T) {
	conv := &domain.Conversation{ID: testConvID, MemberIDs: []string{"ou_1", testPersonaID}}
	p := newPipeline(conv)
	now := time.Now()
	p.msgs.add(&domain.Message{
		ID:              "om_p",
		ConversationID:  testConvID,
		AuthorID:        testPersonaID,
		Text:            "Deploy with make release.",
		Type:            domain.MessageTypeText,
		IsPersonaAuthor: true,
		IsFormalReply:   boolPtr(true),
		Timestamp:       now.Add(-2 * time.Minute),
	})

	ev := inbound("om_2", "ou_1", "and then what?", now)
	ev.ReplyToID = "om_p"
	ans := recordAndAnswer(t, p, ev)
	require.NotNil(t, ans)
	assert.True(t, ans.IsFormal)
	assert.Equal(t, domain.TriggerReplyToPersona, ans.Trigger)

	require.Len(t, p.gen.calls, 1)
	call := p.gen.calls[0]
	assert.Equal(t, domain.RequestTypeChat, call.typ)
	want := []domain.ChatEntry{
		{Role: domain.RoleAssistant, Name: "Assistant", Content: "Deploy with make release."},
		{Role: domain.RoleUser, Name: "user-ou_1", Content: "and then what?"},
	}
	if diff := cmp.Diff(want, call.entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReply_InformalHistoryKeepsCharacterOnReply(t *testing.T) {
	conv := &domain.Conversation{ID: testConvID, Description: "a grumpy old man", IsRude: true}
	p := newPipeline(conv)
	now := time.Now()
	p.msgs.add(&domain.Message{
		ID:              "om_p",
		ConversationID:  testConvID,
		AuthorID:        testPersonaID,
		Text:            "back in my day",
		Type:            domain.MessageTypeText,
		IsPersonaAuthor: true,
		IsFormalReply:   boolPtr(false),
		Timestamp:       now.Add(-time.Minute),
	})

	ev := inbound("om_2", "ou_1", "sure grandpa", now)
	ev.ReplyToID = "om_p"
	ans := recordAndAnswer(t, p, ev)
	require.NotNil(t, ans)
	assert.False(t, ans.IsFormal)
	require.Len(t, p.gen.calls, 1)
	assert.True(t, strings.HasSuffix(p.gen.calls[0].prompt, "Uncle Vova (be rude):"))
}

func TestReply_NonTextIsSilent(t *testing.T) {
	p := newPipeline(&domain.Conversation{ID: testConvID})
	ev := inbound("om_1", "ou_1", "", time.Now())
	ev.Type = domain.MessageTypeSticker

	assert.Nil(t, recordAndAnswer(t, p, ev))
	assert.Empty(t, p.gen.calls)
}

func TestReply_BackendFailureIsSilent(t *testing.T) {
	p := newPipeline(&domain.Conversation{ID: testConvID})
	p.gen.err = errBackend

	assert.Nil(t, recordAndAnswer(t, p, inbound("om_1", "ou_1", "persona bot, status?", time.Now())))
	require.Len(t, p.audits.audits, 1)
	assert.False(t, p.audits.audits[0].Succeeded())
}

// seedAmbient stores a persona message followed by n long messages
func seedAmbient(p *pipeline, n int, start time.Time) {
	p.msgs.add(&domain.Message{
		ID:              "om_p",
		ConversationID:  testConvID,
		AuthorID:        testPersonaID,
		Text:            "ok",
		Type:            domain.MessageTypeText,
		IsPersonaAuthor: true,
		Timestamp:       start,
	})
	for i := 1; i <= n; i++ {
		p.msgs.add(textMsg(fmt.Sprintf("om_%02d", i), "ou_1",
			fmt.Sprintf("this is a fairly long message number %d", i),
			start.Add(time.Duration(i)*time.Second)))
	}
}

func TestReply_AmbientFiresAtThreshold(t *testing.T) {
	conv := &domain.Conversation{ID: testConvID, Description: "a grumpy old man"}
	p := newPipeline(conv)
	start := time.Now().Add(-time.Hour)
	seedAmbient(p, 14, start)

	ans := recordAndAnswer(t, p, inbound("om_15", "ou_1", "this is a fairly long message number 15", start.Add(15*time.Second)))
	require.NotNil(t, ans)
	assert.Equal(t, domain.TriggerAmbient, ans.Trigger)
	assert.False(t, ans.IsFormal)

	require.Len(t, p.gen.calls, 1)
	prompt := p.gen.calls[0].prompt
	assert.Contains(t, prompt, "number 13")
	assert.Contains(t, prompt, "number 15")
	assert.NotContains(t, prompt, "number 12", "only the last messages reach the prompt")
}

func TestReply_AmbientBelowThresholdIsSilent(t *testing.T) {
	conv := &domain.Conversation{ID: testConvID, Description: "a grumpy old man"}
	p := newPipeline(conv)
	start := time.Now().Add(-time.Hour)
	seedAmbient(p, 13, start)

	ans := recordAndAnswer(t, p, inbound("om_14", "ou_1", "this is a fairly long message number 14", start.Add(14*time.Second)))
	assert.Nil(t, ans)
	assert.Empty(t, p.gen.calls)
}

func TestReply_AmbientNeverFiresBeforePersonaSpoke(t *testing.T) {
	p := newPipeline(&domain.Conversation{ID: testConvID, Description: "a grumpy old man"})
	start := time.Now().Add(-time.Hour)
	for i := 1; i <= 30; i++ {
		p.msgs.add(textMsg(fmt.Sprintf("om_%02d", i), "ou_1",
			fmt.Sprintf("this is a fairly long message number %d", i),
			start.Add(time.Duration(i)*time.Second)))
	}

	// The inbound message is already recorded, so it is its own anchor
	ans := recordAndAnswer(t, p, inbound("om_31", "ou_1", "this is a fairly long message number 31", start.Add(31*time.Second)))
	assert.Nil(t, ans)
	assert.Empty(t, p.gen.calls)
}

func TestReply_AmbientIgnoresShortMessages(t *testing.T) {
	p := newPipeline(&domain.Conversation{ID: testConvID})
	start := time.Now().Add(-time.Hour)
	seedAmbient(p, 14, start)

	ans := recordAndAnswer(t, p, inbound("om_15", "ou_1", "short one", start.Add(15*time.Second)))
	assert.Nil(t, ans)
}
