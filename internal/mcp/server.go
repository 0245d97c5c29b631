package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/api"
)

// Server exposes persona administration as MCP tools backed by the admin API
type Server struct {
	server *mcp.Server
	client *Client
	logger *zap.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(client *Client, version string, logger *zap.Logger) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "persona-bot",
			Version: version,
		}, nil),
		client: client,
		logger: logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx is done
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "conversation_get",
		Description: "Get the persona configuration of a chat: description, quotes, rudeness and whether wake-ups are enabled.",
	}, s.handleGetConversation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "conversation_set_persona",
		Description: "Change the persona of a chat. Only the given fields change. An empty description switches the persona to the formal assistant; an empty quotes list removes all quotes.",
	}, s.handleSetPersona)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "conversation_set_wake",
		Description: "Enable or disable unsolicited wake-up messages for a chat that has gone quiet.",
	}, s.handleSetWake)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wake_sweep_run",
		Description: "Run the wake sweep now: every wake-enabled chat that has been idle long enough gets a generated message.",
	}, s.handleWakeSweep)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "audit_list",
		Description: "List the latest text generation attempts, newest first, with their result or error.",
	}, s.handleListAudits)
}

// ============ Conversations ============

// ConversationInput selects a conversation
type ConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the Feishu chat id, e.g. oc_xxx"`
}

// SetPersonaInput is the input for conversation_set_persona
type SetPersonaInput struct {
	ConversationID string   `json:"conversation_id" jsonschema:"the Feishu chat id, e.g. oc_xxx"`
	Description    *string  `json:"description,omitempty" jsonschema:"who the persona is, written in third person; empty for the formal assistant"`
	Quotes         []string `json:"quotes,omitempty" jsonschema:"typical phrases of the persona, shown to the model as examples"`
	IsRude         *bool    `json:"is_rude,omitempty" jsonschema:"whether the informal persona may be rude"`
}

// SetWakeInput is the input for conversation_set_wake
type SetWakeInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the Feishu chat id, e.g. oc_xxx"`
	Enabled        bool   `json:"enabled" jsonschema:"true to allow wake-up messages"`
}

// ConversationOutput is the persona configuration of a chat
type ConversationOutput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ChatType    string   `json:"chat_type"`
	MemberCount int      `json:"member_count"`
	Description string   `json:"description"`
	Quotes      []string `json:"quotes"`
	IsRude      bool     `json:"is_rude"`
	WakeEnabled bool     `json:"wake_enabled"`
	Version     int64    `json:"version"`
	UpdatedAt   string   `json:"updated_at"`
}

func (s *Server) handleGetConversation(ctx context.Context, req *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, ConversationOutput, error) {
	if in.ConversationID == "" {
		return nil, ConversationOutput{}, fmt.Errorf("conversation_id is required")
	}
	conv, err := s.client.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, ConversationOutput{}, err
	}
	return nil, toConversationOutput(conv), nil
}

func (s *Server) handleSetPersona(ctx context.Context, req *mcp.CallToolRequest, in SetPersonaInput) (*mcp.CallToolResult, ConversationOutput, error) {
	if in.ConversationID == "" {
		return nil, ConversationOutput{}, fmt.Errorf("conversation_id is required")
	}
	conv, err := s.client.UpdatePersona(ctx, in.ConversationID, api.PersonaRequest{
		Description: in.Description,
		Quotes:      in.Quotes,
		IsRude:      in.IsRude,
	})
	if err != nil {
		return nil, ConversationOutput{}, err
	}
	s.logger.Info("persona updated", zap.String("conversation_id", conv.ID))
	return nil, toConversationOutput(conv), nil
}

func (s *Server) handleSetWake(ctx context.Context, req *mcp.CallToolRequest, in SetWakeInput) (*mcp.CallToolResult, ConversationOutput, error) {
	if in.ConversationID == "" {
		return nil, ConversationOutput{}, fmt.Errorf("conversation_id is required")
	}
	enabled := in.Enabled
	conv, err := s.client.UpdatePersona(ctx, in.ConversationID, api.PersonaRequest{WakeEnabled: &enabled})
	if err != nil {
		return nil, ConversationOutput{}, err
	}
	return nil, toConversationOutput(conv), nil
}

func toConversationOutput(c *api.Conversation) ConversationOutput {
	quotes := c.Quotes
	if quotes == nil {
		quotes = []string{}
	}
	return ConversationOutput{
		ID:          c.ID,
		Title:       c.Title,
		ChatType:    c.ChatType,
		MemberCount: len(c.MemberIDs),
		Description: c.Description,
		Quotes:      quotes,
		IsRude:      c.IsRude,
		WakeEnabled: c.WakeEnabled,
		Version:     c.Version,
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
}

// ============ Wake ============

// WakeSweepInput is the (empty) input for wake_sweep_run
type WakeSweepInput struct{}

// WakeSweepOutput summarizes a sweep
type WakeSweepOutput struct {
	Scanned int `json:"scanned" jsonschema:"wake-enabled conversations looked at"`
	Idle    int `json:"idle" jsonschema:"conversations idle past the threshold"`
	Sent    int `json:"sent" jsonschema:"wake-up messages delivered"`
	Silent  int `json:"silent" jsonschema:"idle conversations where nothing was generated"`
	Failed  int `json:"failed" jsonschema:"conversations that failed"`
}

func (s *Server) handleWakeSweep(ctx context.Context, req *mcp.CallToolRequest, in WakeSweepInput) (*mcp.CallToolResult, WakeSweepOutput, error) {
	res, err := s.client.RunWakeSweep(ctx)
	if err != nil {
		return nil, WakeSweepOutput{}, err
	}
	return nil, WakeSweepOutput{
		Scanned: res.Scanned,
		Idle:    res.Idle,
		Sent:    res.Sent,
		Silent:  res.Silent,
		Failed:  res.Failed,
	}, nil
}

// ============ Audits ============

// ListAuditsInput is the input for audit_list
type ListAuditsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of audits to return (default 20)"`
}

// AuditSummary is one generation attempt
type AuditSummary struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	MaxTokens      int    `json:"max_tokens"`
	Model          string `json:"model,omitempty"`
	Text           string `json:"text,omitempty"`
	TotalTokens    int    `json:"total_tokens,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// ListAuditsOutput is the output for audit_list
type ListAuditsOutput struct {
	Audits []AuditSummary `json:"audits"`
}

func (s *Server) handleListAudits(ctx context.Context, req *mcp.CallToolRequest, in ListAuditsInput) (*mcp.CallToolResult, ListAuditsOutput, error) {
	audits, err := s.client.ListAudits(ctx, in.Limit)
	if err != nil {
		return nil, ListAuditsOutput{}, err
	}

	out := ListAuditsOutput{Audits: make([]AuditSummary, 0, len(audits))}
	for _, a := range audits {
		sum := AuditSummary{
			ID:             a.ID,
			ConversationID: a.ConversationID,
			Type:           a.Type,
			MaxTokens:      a.MaxTokens,
			Error:          a.Error,
			CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		}
		if a.Response != nil {
			sum.Model = a.Response.Model
			sum.Text = a.Response.Text
			sum.TotalTokens = a.Response.Usage.TotalTokens
		}
		out.Audits = append(out.Audits, sum)
	}
	return nil, out, nil
}
