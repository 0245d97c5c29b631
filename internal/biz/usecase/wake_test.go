package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
)

func idleConversation(id string, wake bool) *domain.Conversation {
	return &domain.Conversation{
		ID:          id,
		Description: "a grumpy old man",
		IsRude:      true,
		WakeEnabled: wake,
		MemberIDs:   []string{"ou_1", testPersonaID},
	}
}

func TestWake_IdleConversationGetsOneMessage(t *testing.T) {
	p := newPipeline(idleConversation(testConvID, true))
	now := time.Now()
	ctx := context.Background()
	require.NoError(t, p.users.Create(ctx, &domain.User{ID: "ou_1", FirstName: "Ivan"}))
	require.NoError(t, p.users.Create(ctx, &domain.User{ID: testPersonaID, IsBot: true}))
	p.templates = []int{0}
	p.msgs.add(textMsg("om_old", "ou_1", "anyone here?", now.Add(-4*24*time.Hour)))

	res, err := p.wake.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Scanned: 1, Idle: 1, Sent: 1}, res)

	require.Len(t, p.gen.calls, 1)
	call := p.gen.calls[0]
	assert.Equal(t, domain.RequestTypeCompletion, call.typ)
	parts := strings.Split(call.prompt, "|")
	require.Len(t, parts, 5)
	assert.Contains(t, WakeupTemplates, parts[0])
	assert.Equal(t, WakeupQuestionForUser, parts[0])
	assert.Equal(t, "informally", parts[2])
	assert.Equal(t, "(be rude)", parts[3])
	assert.Equal(t, "Ivan. Quotes of Ivan:\n\n \"anyone here?\"", parts[4])

	require.Len(t, p.platform.sent, 1)
	assert.Equal(t, sentText{conversationID: testConvID, text: "generated reply"}, p.platform.sent[0])

	last, _ := p.msgs.GetLast(ctx, testConvID)
	require.NotNil(t, last)
	assert.True(t, last.IsPersonaAuthor)
	assert.Equal(t, "generated reply", last.Text)
}

func TestWake_SkipsActiveEmptyAndDisabled(t *testing.T) {
	now := time.Now()
	p := newPipeline(
		idleConversation("oc_active", true),
		idleConversation("oc_empty", true),
		idleConversation("oc_disabled", false),
	)
	active := textMsg("om_1", "ou_1", "just now", now.Add(-24*time.Hour))
	active.ConversationID = "oc_active"
	disabled := textMsg("om_2", "ou_1", "long ago", now.Add(-30*24*time.Hour))
	disabled.ConversationID = "oc_disabled"
	p.msgs.add(active, disabled)

	res, err := p.wake.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Scanned: 2}, res)
	assert.Empty(t, p.gen.calls)
	assert.Empty(t, p.platform.sent)
}

func TestWake_FailuresAreIsolated(t *testing.T) {
	now := time.Now()
	p := newPipeline(idleConversation("oc_a", true), idleConversation("oc_b", true))
	for _, id := range []string{"oc_a", "oc_b"} {
		m := textMsg("om_"+id, "ou_1", "hello", now.Add(-5*24*time.Hour))
		m.ConversationID = id
		p.msgs.add(m)
	}
	p.platform.err = errBackend

	res, err := p.wake.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Idle)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, p.gen.calls, 2)
}

func TestWake_EmptyGenerationSendsNothing(t *testing.T) {
	now := time.Now()
	p := newPipeline(idleConversation(testConvID, true))
	p.msgs.add(textMsg("om_old", "ou_1", "hello", now.Add(-4*24*time.Hour)))
	p.gen.text = "   "

	res, err := p.wake.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Silent)
	assert.Empty(t, p.platform.sent)
}

func TestWake_FormalConversationWithoutMemberProfile(t *testing.T) {
	now := time.Now()
	conv := &domain.Conversation{ID: testConvID, WakeEnabled: true}
	p := newPipeline(conv)
	p.templates = []int{0}
	p.msgs.add(textMsg("om_old", "ou_1", "hello", now.Add(-4*24*time.Hour)))

	_, err := p.wake.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, p.gen.calls, 1)
	assert.Equal(t, "createJoke||||", p.gen.calls[0].prompt, "question for user needs a member profile")
}
