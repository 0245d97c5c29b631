package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel       = "gpt-4o"
	defaultCompletionModel = "gpt-3.5-turbo-instruct"
	defaultTimeout         = 60 * time.Second
)

// ErrNoChoices means the backend answered without any choice
var ErrNoChoices = errors.New("no response choices")

// Config holds the backend settings
type Config struct {
	APIKey          string
	BaseURL         string // empty uses the OpenAI endpoint
	ChatModel       string
	CompletionModel string
	Temperature     float32
	Timeout         time.Duration
}

// Message is one chat message
type Message struct {
	Role    string
	Name    string
	Content string
}

// Result is a backend answer with its token accounting
type Result struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is an OpenAI-compatible client for chat and text completions
type Client struct {
	client *openai.Client
	cfg    Config
}

// NewClient creates a new client
func NewClient(cfg Config) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = defaultCompletionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}
}

// Chat sends a multi-turn chat completion
func (c *Client) Chat(ctx context.Context, messages []Message, maxTokens int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Name:    m.Name,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return &Result{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// Complete sends a single-text completion
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       c.cfg.CompletionModel,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("text completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return &Result{
		Text:             resp.Choices[0].Text,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}
