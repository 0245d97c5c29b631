package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/api"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// Client is the HTTP client for the bot's admin API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// sweeps may generate text for many conversations
			Timeout: 5 * time.Minute,
		},
	}
}

// ============ Conversations ============

// GetConversation gets a conversation by chat id
func (c *Client) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	var conv api.Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdatePersona applies a partial persona update
func (c *Client) UpdatePersona(ctx context.Context, id string, req api.PersonaRequest) (*api.Conversation, error) {
	var conv api.Conversation
	if err := c.do(ctx, http.MethodPut, conversationPath(id), req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ============ Wake ============

// RunWakeSweep triggers a wake sweep and waits for its result
func (c *Client) RunWakeSweep(ctx context.Context) (*usecase.SweepResult, error) {
	var res usecase.SweepResult
	if err := c.do(ctx, http.MethodPost, "/api/wake/run", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ============ Audits ============

// ListAudits lists the latest generation audits
func (c *Client) ListAudits(ctx context.Context, limit int) ([]api.Audit, error) {
	var result struct {
		Audits []api.Audit `json:"audits"`
	}
	path := "/api/audits"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Audits, nil
}

// ============ Helpers ============

func conversationPath(id string) string {
	return "/api/conversations/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
