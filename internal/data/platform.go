package data

import (
	"context"
	"fmt"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/infra/feishu"
)

// FeishuSender is the part of the Feishu client used for delivery
type FeishuSender interface {
	AppID() string
	SendText(ctx context.Context, chatID, text string) (*feishu.SentMessage, error)
	ReplyText(ctx context.Context, chatID, messageID, text string) (*feishu.SentMessage, error)
}

// platformRepo implements the Platform repository over Feishu
type platformRepo struct {
	client FeishuSender
}

// NewPlatformRepo creates a Feishu-backed Platform repository
func NewPlatformRepo(client FeishuSender) repo.PlatformRepo {
	return &platformRepo{client: client}
}

// SendMessage posts text, as a reply when opts names a target
func (r *platformRepo) SendMessage(ctx context.Context, conversationID, text string, opts repo.SendOptions) (*repo.SentMessage, error) {
	var (
		sent *feishu.SentMessage
		err  error
	)
	if opts.ReplyToMessageID != "" {
		sent, err = r.client.ReplyText(ctx, conversationID, opts.ReplyToMessageID, text)
	} else {
		sent, err = r.client.SendText(ctx, conversationID, text)
	}
	if err != nil {
		return nil, err
	}
	if sent.MsgID == "" {
		return nil, fmt.Errorf("feishu returned no message id for chat %s", conversationID)
	}

	out := &repo.SentMessage{
		MessageID:      sent.MsgID,
		ConversationID: conversationID,
		AuthorID:       r.client.AppID(),
	}
	if sent.CreateTime > 0 {
		out.Timestamp = time.UnixMilli(sent.CreateTime)
	}
	return out, nil
}
