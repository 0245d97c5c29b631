package domain

import "time"

// RequestType tags how a generation was requested
type RequestType string

const (
	RequestTypeChat       RequestType = "chat"
	RequestTypeCompletion RequestType = "completion"
)

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatEntry is one role-tagged entry of a structured chat request
type ChatEntry struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Usage is backend token accounting
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generation is a backend response
type Generation struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// GenerationAudit records one dispatch attempt. Write-once.
type GenerationAudit struct {
	ID                string
	ConversationID    string
	Type              RequestType
	ChatRequest       []ChatEntry
	CompletionRequest string
	MaxTokens         int
	Response          *Generation
	Error             string
	CreatedAt         time.Time
}

// Succeeded reports whether the attempt produced a response
func (a *GenerationAudit) Succeeded() bool {
	return a.Error == "" && a.Response != nil
}
