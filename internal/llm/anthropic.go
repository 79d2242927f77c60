package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AnthropicClient folds system messages into the Messages API system prompt
// and sends the remaining turns in order.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(timeout),
	}
	// The shared default base URL points at OpenAI; only honour explicit overrides.
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" && !strings.Contains(baseURL, "openai.com") {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(model),
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, messages []Message) (string, error) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: message.Content})
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(message.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		}
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("at least one user message is required")
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: anthropic.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages request: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(out.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
