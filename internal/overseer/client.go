package overseer

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-haiku-4-5-20251001"

// Client is a thin wrapper over the Messages API. The overseer runs a
// few calls per hour so it carries no rate cap of its own.
type Client struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewClient returns nil if apiKey is empty, which disables deciding.
func NewClient(apiKey, model string) *Client {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = defaultModel
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &c, model: anthropic.Model(model)}
}

// Complete sends one system+user exchange and returns the text reply.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages api: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return sb.String(), nil
}
