package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/infra/feishu"
)

type fakeSender struct {
	sends, replies []string
	msgID          string
}

func (s *fakeSender) AppID() string { return "cli_app" }

func (s *fakeSender) SendText(ctx context.Context, chatID, text string) (*feishu.SentMessage, error) {
	s.sends = append(s.sends, text)
	return &feishu.SentMessage{MsgID: s.msgID, ChatID: chatID, CreateTime: 1700000000000}, nil
}

func (s *fakeSender) ReplyText(ctx context.Context, chatID, messageID, text string) (*feishu.SentMessage, error) {
	s.replies = append(s.replies, messageID+":"+text)
	return &feishu.SentMessage{MsgID: s.msgID, ChatID: chatID}, nil
}

func TestPlatformRepo_SendMessage(t *testing.T) {
	s := &fakeSender{msgID: "om_sent"}
	p := NewPlatformRepo(s)
	ctx := context.Background()

	sent, err := p.SendMessage(ctx, "oc_1", "wake up", repo.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"wake up"}, s.sends)
	assert.Equal(t, "cli_app", sent.AuthorID)
	assert.True(t, sent.Timestamp.Equal(time.UnixMilli(1700000000000)))

	sent, err = p.SendMessage(ctx, "oc_1", "sure", repo.SendOptions{ReplyToMessageID: "om_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"om_1:sure"}, s.replies)
	assert.True(t, sent.Timestamp.IsZero(), "missing create time is left for the caller")
}

func TestPlatformRepo_MissingMessageID(t *testing.T) {
	_, err := NewPlatformRepo(&fakeSender{}).SendMessage(context.Background(), "oc_1", "x", repo.SendOptions{})
	assert.Error(t, err)
}
