package server

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/infra/feishu"
)

const (
	dedupTTL     = 5 * time.Minute
	directoryTTL = 10 * time.Minute
)

// FeishuClient is the part of the Feishu client the server needs
type FeishuClient interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	GetMessage(ctx context.Context, messageID string) (*feishu.Message, error)
	GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error)
	GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error)
}

// MessageHandler consumes inbound events
type MessageHandler interface {
	HandleInboundMessage(ctx context.Context, ev *domain.InboundEvent)
}

// chatDirectory is the cached title and member names of one chat
type chatDirectory struct {
	title     string
	names     map[string]string // member id -> display name
	fetchedAt time.Time
}

// FeishuServer turns Feishu messages into inbound events
type FeishuServer struct {
	client  FeishuClient
	handler MessageHandler
	logger  *zap.Logger
	now     func() time.Time

	ctx context.Context

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp

	dirMu       sync.Mutex
	directories map[string]*chatDirectory
	dirGroup    singleflight.Group
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client FeishuClient, handler MessageHandler, logger *zap.Logger) *FeishuServer {
	return &FeishuServer{
		client:      client,
		handler:     handler,
		logger:      logger.Named("server"),
		now:         time.Now,
		ctx:         context.Background(),
		seenMsgs:    make(map[string]time.Time),
		directories: make(map[string]*chatDirectory),
	}
}

// Start receives messages until ctx is done
func (s *FeishuServer) Start(ctx context.Context) error {
	s.ctx = ctx
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

// handleMessage handles Feishu messages
func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	s.logger.Debug("received message",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.MsgID),
		zap.String("msg_type", msg.MsgType),
		zap.String("content", truncate(msg.Content, 50)))

	if !s.markMessageSeen(msg.MsgID) {
		s.logger.Debug("duplicate message ignored", zap.String("message_id", msg.MsgID))
		return
	}

	ctx := s.ctx
	ev := s.toEvent(ctx, msg)
	if msg.ParentID != "" {
		ev.ReplyTo = s.repliedSnapshot(ctx, msg.ParentID)
	}
	s.handler.HandleInboundMessage(ctx, ev)
}

// toEvent maps a Feishu message onto an inbound event. Display names and
// the chat title come from the cached chat directory.
func (s *FeishuServer) toEvent(ctx context.Context, msg *feishu.Message) *domain.InboundEvent {
	ev := &domain.InboundEvent{
		ConversationID: msg.ChatID,
		ChatType:       chatType(msg.ChatType),
		MessageID:      msg.MsgID,
		Type:           messageType(msg),
		ReplyToID:      msg.ParentID,
		Timestamp:      s.timestamp(msg.CreateTime),
	}
	if msg.RootID != "" && msg.RootID != msg.MsgID {
		ev.ThreadID = msg.RootID
	}
	switch ev.Type {
	case domain.MessageTypeText:
		ev.Text = msg.Content
	case domain.MessageTypePhotoCaption, domain.MessageTypeDocumentCaption:
		ev.Caption = msg.Content
	}

	if msg.Sender != nil {
		ev.Author = domain.Author{
			ID:    msg.Sender.SenderID,
			IsBot: msg.Sender.SenderType == "app",
		}
	}
	if dir := s.directory(ctx, msg.ChatID); dir != nil {
		ev.ChatTitle = dir.title
		ev.Author.Username = dir.names[ev.Author.ID]
	}
	return ev
}

// repliedSnapshot fetches the replied-to message as Feishu currently has it
func (s *FeishuServer) repliedSnapshot(ctx context.Context, messageID string) *domain.InboundEvent {
	parent, err := s.client.GetMessage(ctx, messageID)
	if err != nil {
		s.logger.Warn("failed to fetch replied message", zap.String("message_id", messageID), zap.Error(err))
		return nil
	}
	if parent == nil {
		return nil
	}
	return s.toEvent(ctx, parent)
}

// directory returns the chat's title and member names, refreshing at most
// once per directoryTTL. Concurrent misses share one fetch.
func (s *FeishuServer) directory(ctx context.Context, chatID string) *chatDirectory {
	s.dirMu.Lock()
	dir, ok := s.directories[chatID]
	s.dirMu.Unlock()
	if ok && s.now().Sub(dir.fetchedAt) < directoryTTL {
		return dir
	}

	v, _, _ := s.dirGroup.Do(chatID, func() (interface{}, error) {
		fresh := &chatDirectory{names: make(map[string]string), fetchedAt: s.now()}

		members, err := s.client.GetChatMembers(ctx, chatID)
		if err != nil {
			s.logger.Warn("failed to get chat members", zap.String("chat_id", chatID), zap.Error(err))
		}
		for _, m := range members {
			fresh.names[m.MemberID] = m.Name
		}

		info, err := s.client.GetChatInfo(ctx, chatID)
		if err != nil {
			s.logger.Warn("failed to get chat info", zap.String("chat_id", chatID), zap.Error(err))
		} else if info != nil {
			fresh.title = info.Name
		}

		// keep serving stale data when both lookups failed
		if len(fresh.names) == 0 && fresh.title == "" && dir != nil {
			return dir, nil
		}
		s.dirMu.Lock()
		s.directories[chatID] = fresh
		s.dirMu.Unlock()
		return fresh, nil
	})
	return v.(*chatDirectory)
}

func (s *FeishuServer) timestamp(ms int64) time.Time {
	if ms <= 0 {
		return s.now()
	}
	return time.UnixMilli(ms)
}

// markMessageSeen records msgID and reports whether it was new.
// Records older than dedupTTL are dropped on the way.
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	cutoff := now.Add(-dedupTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}

	if _, exists := s.seenMsgs[msgID]; exists {
		return false
	}
	s.seenMsgs[msgID] = now
	return true
}

func chatType(feishuType string) domain.ChatType {
	if feishuType == "p2p" {
		return domain.ChatTypeP2P
	}
	return domain.ChatTypeGroup
}

// messageType maps Feishu message types onto the stored type tags
func messageType(msg *feishu.Message) domain.MessageType {
	switch msg.MsgType {
	case "text", "post":
		switch {
		case len(msg.ImageKeys) > 0 && msg.Content != "":
			return domain.MessageTypePhotoCaption
		case len(msg.ImageKeys) > 0:
			return domain.MessageTypePhoto
		}
		return domain.MessageTypeText
	case "image":
		return domain.MessageTypePhoto
	case "file", "media":
		return domain.MessageTypeDocument
	case "audio":
		return domain.MessageTypeVoice
	case "location":
		return domain.MessageTypeLocation
	case "vote":
		return domain.MessageTypePoll
	case "sticker":
		return domain.MessageTypeSticker
	default:
		return domain.MessageTypeUnknown
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
