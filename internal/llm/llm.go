// Package llm wraps the chat completion APIs used for transcript summaries.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Prompt is a single-turn completion request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Model() string
}

const defaultMaxTokens = 2048

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits "provider/model". A bare model name selects openai.
func ParseModel(spec string) (provider, model string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("empty model")
	}
	if !strings.Contains(spec, "/") {
		return "openai", spec, nil
	}
	parts := strings.SplitN(spec, "/", 2)
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", spec)
	}
	return strings.ToLower(parts[0]), parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", provider)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o), nil
	case "anthropic":
		return newAnthropicClient(apiKey, model, o), nil
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func maxTokens(p Prompt) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return defaultMaxTokens
}
