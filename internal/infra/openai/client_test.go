package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-3.5-turbo-instruct","choices":[{"text":" well well"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Temperature: 0.7})
	res, err := c.Complete(context.Background(), "Uncle Vova:", 300)
	require.NoError(t, err)

	assert.Equal(t, " well well", res.Text)
	assert.Equal(t, 7, res.TotalTokens)
	assert.Equal(t, "gpt-3.5-turbo-instruct", got["model"])
	assert.Equal(t, "Uncle Vova:", got["prompt"])
	assert.EqualValues(t, 300, got["max_tokens"])
}

func TestClient_ChatPassesNames(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role string `json:"role"`
			Name string `json:"name"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	res, err := c.Chat(context.Background(), []Message{
		{Role: "user", Name: "ivan", Content: "hello"},
		{Role: "assistant", Name: "Assistant", Content: "hi"},
	}, 100)
	require.NoError(t, err)

	assert.Equal(t, "hi", res.Text)
	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "ivan", got.Messages[0].Name)
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL}).Complete(context.Background(), "x", 10)
	assert.ErrorIs(t, err, ErrNoChoices)
}
