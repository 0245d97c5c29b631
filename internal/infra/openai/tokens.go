package openai

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// TokenCounter counts tokens with the BPE encoding of one model
type TokenCounter struct {
	model string
	enc   *tiktoken.Tiktoken
}

// NewTokenCounter resolves the encoding for model. Encodings are embedded,
// nothing is downloaded. Unknown models return an error.
func NewTokenCounter(model string) (*TokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("token encoding for %q: %w", model, err)
	}
	return &TokenCounter{model: model, enc: enc}, nil
}

// Model returns the model the encoding was resolved for
func (t *TokenCounter) Model() string {
	return t.model
}

// Count returns the number of tokens in text. Special tokens count as text.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
