package domain

import "time"

// ChatType represents the chat type
type ChatType string

const (
	ChatTypeGroup ChatType = "group"
	ChatTypeP2P   ChatType = "p2p"
)

// Conversation represents the conversation aggregate root.
// Version guards read-modify-write updates: the store only accepts an update
// carrying the version it currently holds.
type Conversation struct {
	ID          string
	Title       string
	ChatType    ChatType
	MemberIDs   []string
	Description string   // persona description, empty means formal register
	Quotes      []string // persona quotes, in display order
	IsRude      bool
	WakeEnabled bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewConversation builds the record stored on first contact
func NewConversation(id, title string, chatType ChatType, authorID string, now time.Time) *Conversation {
	return &Conversation{
		ID:          id,
		Title:       title,
		ChatType:    chatType,
		MemberIDs:   []string{authorID},
		IsRude:      true,
		WakeEnabled: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasDescription reports whether a persona description is configured
func (c *Conversation) HasDescription() bool {
	return c.Description != ""
}

// HasQuotes reports whether at least one persona quote is configured
func (c *Conversation) HasQuotes() bool {
	return len(c.Quotes) > 0
}

// HasMember checks if the user is in the member set
func (c *Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MergeMembers unions ids into the member set.
// Empty ids and existing members are skipped. Returns true if the set grew.
func (c *Conversation) MergeMembers(ids ...string) bool {
	grew := false
	for _, id := range ids {
		if id == "" || c.HasMember(id) {
			continue
		}
		c.MemberIDs = append(c.MemberIDs, id)
		grew = true
	}
	return grew
}

// IsGroup checks if this is a group chat
func (c *Conversation) IsGroup() bool {
	return c.ChatType == ChatTypeGroup
}

// Clone returns a deep copy so callers can merge without aliasing store state
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.MemberIDs = append([]string(nil), c.MemberIDs...)
	cp.Quotes = append([]string(nil), c.Quotes...)
	return &cp
}
