package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

const openAPIBase = "https://open.feishu.cn/open-apis"

// Message represents a Feishu message, received or fetched
type Message struct {
	ChatID      string
	MsgID       string
	MsgType     string // text, post, image, file, audio, media, sticker, location
	ChatType    string // p2p (private), group
	Content     string // Text content, mention placeholders resolved
	ImageKeys   []string
	Sender      *Sender
	MentionMap  map[string]string // Map from mention key (@_user_1) to display text
	MentionsBot bool
	ParentID    string // Message this one replies to
	RootID      string // First message of the reply chain
	CreateTime  int64  // Milliseconds Unix timestamp from Feishu
}

// Sender represents the message sender
type Sender struct {
	SenderID   string // open_id for users, app_id for apps
	SenderType string // user, app
	TenantKey  string
}

// ChatMember represents a member in a chat
type ChatMember struct {
	MemberID   string `json:"member_id"`
	MemberType string `json:"member_type"`
	Name       string `json:"name"`
}

// ChatInfo represents information about a chat
type ChatInfo struct {
	ChatID      string `json:"chat_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ChatMode    string `json:"chat_mode"` // group, topic, p2p
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"user_count"`
}

// SentMessage identifies a message the bot posted
type SentMessage struct {
	MsgID      string
	ChatID     string
	CreateTime int64
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	botHandle string
	larkCli   *lark.Client
	wsCli     *larkws.Client
	onMessage MessageHandler
	logger    *zap.Logger

	mu        sync.RWMutex
	botOpenID string
}

// NewClient creates a new Feishu client. Mentions of the bot are rendered as
// "@"+botHandle in message content so they read like any other handle.
func NewClient(appID, appSecret, botHandle string, logger *zap.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		botHandle: botHandle,
		larkCli:   lark.NewClient(appID, appSecret),
		logger:    logger.Named("feishu"),
	}
}

// AppID returns the app id, which is also the sender id of the bot's own messages
func (c *Client) AppID() string {
	return c.appID
}

// BotOpenID returns the bot's open_id, empty until learned
func (c *Client) BotOpenID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botOpenID
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects to Feishu via WebSocket and blocks until ctx is done
func (c *Client) Start(ctx context.Context) error {
	if err := c.fetchBotOpenID(ctx); err != nil {
		c.logger.Warn("failed to fetch bot open_id", zap.Error(err))
	}

	// Must return quickly so the SDK can ACK, otherwise Feishu redelivers
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleEvent(event)
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.logger.Info("starting websocket connection")
	return c.wsCli.Start(ctx)
}

// fetchBotOpenID fetches the bot's own open_id
func (c *Client) fetchBotOpenID(ctx context.Context) error {
	tokenBody, _ := json.Marshal(map[string]string{"app_id": c.appID, "app_secret": c.appSecret})
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		openAPIBase+"/auth/v3/tenant_access_token/internal", strings.NewReader(string(tokenBody)))
	if err != nil {
		return err
	}
	tokenReq.Header.Set("Content-Type", "application/json")
	tokenResp, err := http.DefaultClient.Do(tokenReq)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	defer tokenResp.Body.Close()

	var tokenResult struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenResult); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if tokenResult.Code != 0 {
		return fmt.Errorf("token API error: %s", tokenResult.Msg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAPIBase+"/bot/v3/info", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tokenResult.TenantAccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	defer resp.Body.Close()

	var botResult struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&botResult); err != nil {
		return fmt.Errorf("decode bot info: %w", err)
	}
	if botResult.Code != 0 {
		return fmt.Errorf("API error: %s", botResult.Msg)
	}

	c.mu.Lock()
	c.botOpenID = botResult.Bot.OpenID
	c.mu.Unlock()
	c.logger.Info("bot identity resolved",
		zap.String("open_id", botResult.Bot.OpenID),
		zap.String("app_name", botResult.Bot.AppName))
	return nil
}

// handleEvent converts a receive event and passes it to the handler.
// Messages sent by apps, this bot included, are dropped.
func (c *Client) handleEvent(event *larkim.P2MessageReceiveV1) {
	if event.Event == nil || event.Event.Message == nil {
		return
	}
	if s := event.Event.Sender; s != nil && deref(s.SenderType) == "app" {
		return
	}
	rawMsg := event.Event.Message

	msg := &Message{
		ChatID:   deref(rawMsg.ChatId),
		MsgID:    deref(rawMsg.MessageId),
		MsgType:  deref(rawMsg.MessageType),
		ChatType: deref(rawMsg.ChatType),
		ParentID: deref(rawMsg.ParentId),
		RootID:   deref(rawMsg.RootId),
	}
	msg.CreateTime, _ = strconv.ParseInt(deref(rawMsg.CreateTime), 10, 64)

	if s := event.Event.Sender; s != nil {
		msg.Sender = &Sender{
			SenderType: deref(s.SenderType),
			TenantKey:  deref(s.TenantKey),
		}
		if s.SenderId != nil {
			msg.Sender.SenderID = deref(s.SenderId.OpenId)
		}
	}

	botOpenID := c.BotOpenID()
	msg.MentionMap = make(map[string]string)
	for _, mention := range rawMsg.Mentions {
		if mention == nil || mention.Key == nil {
			continue
		}
		name := deref(mention.Name)
		if mention.Id != nil && botOpenID != "" && deref(mention.Id.OpenId) == botOpenID {
			msg.MentionsBot = true
			if c.botHandle != "" {
				name = c.botHandle
			}
		}
		if name != "" {
			msg.MentionMap[*mention.Key] = name
		}
	}

	msg.Content, msg.ImageKeys = parseContent(msg.MsgType, deref(rawMsg.Content), msg.MentionMap)

	c.logger.Debug("message received",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.MsgID),
		zap.String("msg_type", msg.MsgType),
		zap.Bool("mentions_bot", msg.MentionsBot))

	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// parseContent extracts text and image keys from a message body
func parseContent(msgType, raw string, mentionMap map[string]string) (string, []string) {
	switch msgType {
	case "text":
		return parseTextContent(raw, mentionMap), nil
	case "post":
		return parsePostContent(raw, mentionMap)
	case "image":
		return "", parseImageContent(raw)
	default:
		return "", nil
	}
}

// parseTextContent extracts text from a text message
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

func parseImageContent(content string) []string {
	var parsed struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.ImageKey == "" {
		return nil
	}
	return []string{parsed.ImageKey}
}

// parsePostContent extracts text and images from a rich text message
func parsePostContent(content string, mentionMap map[string]string) (string, []string) {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag      string `json:"tag"`
			Text     string `json:"text,omitempty"`
			ImageKey string `json:"image_key,omitempty"`
			UserID   string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", nil
	}

	var textParts, imageKeys []string
	if parsed.Title != "" {
		textParts = append(textParts, parsed.Title)
	}
	for _, line := range parsed.Content {
		var lineParts []string
		for _, elem := range line {
			switch elem.Tag {
			case "text", "a":
				if elem.Text != "" {
					lineParts = append(lineParts, elem.Text)
				}
			case "at":
				if elem.UserID == "" {
					continue
				}
				if name, ok := mentionMap[elem.UserID]; ok {
					lineParts = append(lineParts, "@"+name)
				} else {
					lineParts = append(lineParts, "@"+elem.UserID)
				}
			case "img":
				if elem.ImageKey != "" {
					imageKeys = append(imageKeys, elem.ImageKey)
				}
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}
	return replaceMentions(strings.Join(textParts, "\n"), mentionMap), imageKeys
}

// replaceMentions replaces mention placeholders (@_user_1, ...) with "@"+name
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

func textContent(text string) string {
	b, _ := json.Marshal(map[string]string{"text": text})
	return string(b)
}

// SendText posts a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) (*SentMessage, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(textContent(text)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("send message error: %s", resp.Msg)
	}

	sent := &SentMessage{ChatID: chatID}
	if resp.Data != nil {
		sent.MsgID = deref(resp.Data.MessageId)
		sent.CreateTime, _ = strconv.ParseInt(deref(resp.Data.CreateTime), 10, 64)
	}
	c.logger.Debug("message sent", zap.String("chat_id", chatID), zap.String("message_id", sent.MsgID))
	return sent, nil
}

// ReplyText posts a text message as a reply to messageID
func (c *Client) ReplyText(ctx context.Context, chatID, messageID, text string) (*SentMessage, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(textContent(text)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Reply(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reply message failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("reply message error: %s", resp.Msg)
	}

	sent := &SentMessage{ChatID: chatID}
	if resp.Data != nil {
		sent.MsgID = deref(resp.Data.MessageId)
		sent.CreateTime, _ = strconv.ParseInt(deref(resp.Data.CreateTime), 10, 64)
	}
	c.logger.Debug("reply sent",
		zap.String("chat_id", chatID),
		zap.String("reply_to", messageID),
		zap.String("message_id", sent.MsgID))
	return sent, nil
}

// GetMessage fetches one message. Returns nil when Feishu has no such message.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	req := larkim.NewGetMessageReqBuilder().
		MessageId(messageID).
		Build()

	resp, err := c.larkCli.Im.Message.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get message error: %s", resp.Msg)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 || resp.Data.Items[0] == nil {
		return nil, nil
	}

	item := resp.Data.Items[0]
	msg := &Message{
		ChatID:   deref(item.ChatId),
		MsgID:    deref(item.MessageId),
		MsgType:  deref(item.MsgType),
		ParentID: deref(item.ParentId),
		RootID:   deref(item.RootId),
	}
	msg.CreateTime, _ = strconv.ParseInt(deref(item.CreateTime), 10, 64)
	if item.Sender != nil {
		msg.Sender = &Sender{
			SenderID:   deref(item.Sender.Id),
			SenderType: deref(item.Sender.SenderType),
			TenantKey:  deref(item.Sender.TenantKey),
		}
	}

	msg.MentionMap = make(map[string]string)
	for _, mention := range item.Mentions {
		if mention != nil && mention.Key != nil && mention.Name != nil {
			msg.MentionMap[*mention.Key] = *mention.Name
		}
	}
	if item.Body != nil {
		msg.Content, msg.ImageKeys = parseContent(msg.MsgType, deref(item.Body.Content), msg.MentionMap)
	}
	return msg, nil
}

// GetChatMembers retrieves all members of a chat
func (c *Client) GetChatMembers(ctx context.Context, chatID string) ([]*ChatMember, error) {
	var members []*ChatMember
	var pageToken string

	for {
		reqBuilder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: %s", resp.Msg)
		}

		for _, item := range resp.Data.Items {
			members = append(members, &ChatMember{
				MemberID:   deref(item.MemberId),
				MemberType: deref(item.MemberIdType),
				Name:       deref(item.Name),
			})
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return members, nil
}

// GetChatInfo retrieves information about a chat
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		Build()

	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat info error: %s", resp.Msg)
	}

	info := &ChatInfo{
		ChatID:      chatID,
		Name:        deref(resp.Data.Name),
		Description: deref(resp.Data.Description),
		ChatMode:    deref(resp.Data.ChatMode),
		OwnerID:     deref(resp.Data.OwnerId),
	}
	info.MemberCount, _ = strconv.Atoi(deref(resp.Data.UserCount))
	return info, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
