package adapter

import (
	"context"
	"io"

	"github.com/m-mizutani/murmur/pkg/model"
)

// Generator converts an ordered conversation into one generated reply
type Generator interface {
	Generate(ctx context.Context, turns []model.Turn, opts ...GenerateOption) (string, error)
}

// Embedder converts text into a fixed-dimension embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Messenger delivers messages to chats and resolves the agent's own identity
type Messenger interface {
	Deliver(ctx context.Context, chatID model.ChatID, text string) (model.MessageID, error)
	Self(ctx context.Context) (*model.Identity, error)
}

// Archive stores generation transcripts
type Archive interface {
	// Put returns a writer to save a transcript under key
	Put(ctx context.Context, key string) (io.WriteCloser, error)
}

// GenerateConfig holds per-call sampling parameters
type GenerateConfig struct {
	Temperature float32
	MaxTokens   int
}

type GenerateOption func(*GenerateConfig)

func WithTemperature(t float32) GenerateOption {
	return func(c *GenerateConfig) {
		c.Temperature = t
	}
}

func WithMaxTokens(n int) GenerateOption {
	return func(c *GenerateConfig) {
		c.MaxTokens = n
	}
}

// NewGenerateConfig applies opts over the chat reply defaults
func NewGenerateConfig(opts ...GenerateOption) *GenerateConfig {
	cfg := &GenerateConfig{
		Temperature: 0.7,
		MaxTokens:   150,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// splitSystem separates leading instruction turns from conversational turns.
// System turns keep their relative order.
func splitSystem(turns []model.Turn) (system []string, conversation []model.Turn) {
	for _, t := range turns {
		if t.Role == model.RoleSystem {
			system = append(system, t.Content)
			continue
		}
		conversation = append(conversation, t)
	}
	return system, conversation
}
