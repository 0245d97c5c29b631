package domain

import "time"

// MessageType is the closed set of message kinds the platform delivers
type MessageType string

const (
	MessageTypeText            MessageType = "text"
	MessageTypePhoto           MessageType = "photo"
	MessageTypePhotoCaption    MessageType = "photo_caption"
	MessageTypeDocument        MessageType = "document"
	MessageTypeDocumentCaption MessageType = "document_caption"
	MessageTypeVoice           MessageType = "voice"
	MessageTypeLocation        MessageType = "location"
	MessageTypePoll            MessageType = "poll"
	MessageTypeSticker         MessageType = "sticker"
	MessageTypeUnknown         MessageType = "unknown"
)

// TextBearingTypes are the types whose text or caption can feed a prompt
var TextBearingTypes = []MessageType{
	MessageTypeText,
	MessageTypePhotoCaption,
	MessageTypeDocumentCaption,
}

// IsTextBearing checks if the type is in the text-bearing set
func (t MessageType) IsTextBearing() bool {
	for _, tb := range TextBearingTypes {
		if t == tb {
			return true
		}
	}
	return false
}

// ParseMessageType maps a stored tag back to the closed set
func ParseMessageType(s string) MessageType {
	switch mt := MessageType(s); mt {
	case MessageTypeText, MessageTypePhoto, MessageTypePhotoCaption, MessageTypeDocument,
		MessageTypeDocumentCaption, MessageTypeVoice, MessageTypeLocation, MessageTypePoll,
		MessageTypeSticker:
		return mt
	default:
		return MessageTypeUnknown
	}
}

// Message represents a stored chat message.
// (ConversationID, ID) is unique. Messages are append-only.
type Message struct {
	ID              string
	ConversationID  string
	AuthorID        string
	Text            string
	Caption         string
	Type            MessageType
	ThreadID        string // root of the reply chain, if any
	ReplyToID       string
	IsPersonaAuthor bool
	IsFormalReply   *bool
	Timestamp       time.Time
	CreatedAt       time.Time
}

// Content returns text, falling back to caption
func (m *Message) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// SetContent rewrites whichever of text or caption carries the payload
func (m *Message) SetContent(s string) {
	if m.Text != "" {
		m.Text = s
		return
	}
	m.Caption = s
}

// IsInformalReply reports whether the persona explicitly answered informally
func (m *Message) IsInformalReply() bool {
	return m.IsPersonaAuthor && m.IsFormalReply != nil && !*m.IsFormalReply
}

// IsAfter checks if the message is after the specified time
func (m *Message) IsAfter(t time.Time) bool {
	return m.Timestamp.After(t)
}

// IsBefore checks if the message is before the specified time
func (m *Message) IsBefore(t time.Time) bool {
	return m.Timestamp.Before(t)
}

// WindowEntry is a context-window slot: a message and its author, if known
type WindowEntry struct {
	Message *Message
	Author  *User
}
