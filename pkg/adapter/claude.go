package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
)

// Claude generates replies with the Anthropic Messages API. It has no embedding endpoint.
type Claude struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey, model string) *Claude {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &Claude{
		client: &client,
		model:  model,
	}
}

func (c *Claude) Generate(ctx context.Context, turns []model.Turn, opts ...GenerateOption) (string, error) {
	cfg := NewGenerateConfig(opts...)
	system, conversation := splitSystem(turns)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: anthropic.Float(float64(cfg.Temperature)),
	}
	for _, s := range system {
		params.System = append(params.System, anthropic.TextBlockParam{Text: s})
	}
	for _, t := range conversation {
		if t.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create message", goerr.V("model", c.model))
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", goerr.Wrap(model.ErrEmptyResponse, "claude returned no text", goerr.V("model", c.model))
	}
	return text, nil
}
