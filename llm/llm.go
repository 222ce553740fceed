// Package llm provides the chat client used by the extraction strategies.
// The wire protocol is OpenAI-compatible, which covers DashScope
// (compatible-mode), vLLM, Ollama, and most hosted endpoints.
package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnavailable is returned when the endpoint cannot be reached after
// retries.
var ErrUnavailable = errors.New("llm: endpoint unavailable")

// Client sends chat completion requests.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the chat endpoint.
type Config struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// StripFences removes a markdown code fence wrapper from model output and
// trims to the outermost JSON array or object. Models routinely wrap JSON in
// fences regardless of prompt instructions.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	if m := codeBlockRe.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}

	// Trim prose around the payload: whichever of [ or { opens first wins.
	arr, obj := strings.Index(content, "["), strings.Index(content, "{")
	open, closer := arr, "]"
	if obj >= 0 && (arr < 0 || obj < arr) {
		open, closer = obj, "}"
	}
	if end := strings.LastIndex(content, closer); open >= 0 && end > open {
		return content[open : end+1]
	}
	return content
}
