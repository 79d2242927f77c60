// Package llm is the language model seam: an ordered list of role/content
// messages goes in, one text completion comes out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

var ErrEmptyResponse = errors.New("language model returned empty content")

// New builds the client selected by cfg.Provider.
func New(cfg config.AIConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

// StripCodeFence removes markdown code fences (```sql ... ```) the model may
// wrap around SQL and trims surrounding whitespace.
func StripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.ReplaceAll(trimmed, "```sql\n", "")
	trimmed = strings.ReplaceAll(trimmed, "```SQL\n", "")
	trimmed = strings.ReplaceAll(trimmed, "```sql", "")
	trimmed = strings.ReplaceAll(trimmed, "```", "")
	return strings.TrimSpace(trimmed)
}
