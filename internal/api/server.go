package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/domain"
	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

const maxAuditLimit = 200

// ConversationManager reads and configures conversations
type ConversationManager interface {
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	ConfigurePersona(ctx context.Context, id string, upd usecase.PersonaUpdate) (*domain.Conversation, error)
	RecentAudits(ctx context.Context, limit int) ([]*domain.GenerationAudit, error)
}

// WakeRunner runs a wake sweep on demand
type WakeRunner interface {
	RunWakeSweep(ctx context.Context) (*usecase.SweepResult, error)
}

// Server is the local admin API used by the MCP tools
type Server struct {
	convs  ConversationManager
	wake   WakeRunner
	logger *zap.Logger

	server *http.Server
	port   int
}

// NewServer creates a new API server bound to 127.0.0.1:port
func NewServer(convs ConversationManager, wake WakeRunner, port int, logger *zap.Logger) *Server {
	return &Server{
		convs:  convs,
		wake:   wake,
		logger: logger.Named("api"),
		port:   port,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PUT /api/conversations/{id}", s.handleConfigurePersona)
	mux.HandleFunc("POST /api/wake/run", s.handleRunWake)
	mux.HandleFunc("GET /api/audits", s.handleAudits)

	return mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.Int("port", s.port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

// ============ Conversations ============

// Conversation is the API view of a conversation
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ChatType    string    `json:"chat_type"`
	MemberIDs   []string  `json:"member_ids"`
	Description string    `json:"description"`
	Quotes      []string  `json:"quotes"`
	IsRude      bool      `json:"is_rude"`
	WakeEnabled bool      `json:"wake_enabled"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PersonaRequest is a partial persona update. Absent fields are kept;
// a null quotes list keeps them, an empty one clears them.
type PersonaRequest struct {
	Description *string  `json:"description,omitempty"`
	Quotes      []string `json:"quotes"`
	IsRude      *bool    `json:"is_rude,omitempty"`
	WakeEnabled *bool    `json:"wake_enabled,omitempty"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.convs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if conv == nil {
		s.writeError(w, fmt.Errorf("conversation %s: %w", id, repo.ErrNotFound))
		return
	}
	s.writeJSON(w, ConvertConversation(conv))
}

func (s *Server) handleConfigurePersona(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := s.convs.ConfigurePersona(r.Context(), r.PathValue("id"), usecase.PersonaUpdate{
		Description: req.Description,
		Quotes:      req.Quotes,
		IsRude:      req.IsRude,
		WakeEnabled: req.WakeEnabled,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("persona configured", zap.String("conversation_id", conv.ID))
	s.writeJSON(w, ConvertConversation(conv))
}

// ============ Wake ============

func (s *Server) handleRunWake(w http.ResponseWriter, r *http.Request) {
	if s.wake == nil {
		http.Error(w, "wake scheduler not running", http.StatusServiceUnavailable)
		return
	}
	res, err := s.wake.RunWakeSweep(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

// ============ Audits ============

// Audit is the API view of a generation audit
type Audit struct {
	ID                string             `json:"id"`
	ConversationID    string             `json:"conversation_id"`
	Type              string             `json:"type"`
	ChatRequest       []domain.ChatEntry `json:"chat_request,omitempty"`
	CompletionRequest string             `json:"completion_request,omitempty"`
	MaxTokens         int                `json:"max_tokens"`
	Response          *domain.Generation `json:"response,omitempty"`
	Error             string             `json:"error,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAuditLimit)
	}

	audits, err := s.convs.RecentAudits(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]Audit, len(audits))
	for i, a := range audits {
		out[i] = ConvertAudit(a)
	}
	s.writeJSON(w, map[string]interface{}{"audits": out})
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repo.ErrConflict):
		status = http.StatusConflict
	default:
		s.logger.Error("request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// ConvertConversation converts a domain conversation to its API view
func ConvertConversation(c *domain.Conversation) Conversation {
	return Conversation{
		ID:          c.ID,
		Title:       c.Title,
		ChatType:    string(c.ChatType),
		MemberIDs:   c.MemberIDs,
		Description: c.Description,
		Quotes:      c.Quotes,
		IsRude:      c.IsRude,
		WakeEnabled: c.WakeEnabled,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// ConvertAudit converts a domain audit to its API view
func ConvertAudit(a *domain.GenerationAudit) Audit {
	return Audit{
		ID:                a.ID,
		ConversationID:    a.ConversationID,
		Type:              string(a.Type),
		ChatRequest:       a.ChatRequest,
		CompletionRequest: a.CompletionRequest,
		MaxTokens:         a.MaxTokens,
		Response:          a.Response,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
}
