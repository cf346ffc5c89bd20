package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI talks to the OpenAI API or any compatible endpoint such as OpenRouter
type OpenAI struct {
	client          *openai.Client
	generativeModel string
	embeddingModel  string
	dimensions      int64
}

type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL         string
	generativeModel string
	embeddingModel  string
	dimensions      int64
}

// WithOpenAIBaseURL points the client to a compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

func WithOpenAIGenerativeModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.generativeModel = model
	}
}

func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.embeddingModel = model
	}
}

func WithOpenAIEmbeddingDimensions(n int) OpenAIOption {
	return func(c *openAIConfig) {
		c.dimensions = int64(n)
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := &openAIConfig{
		generativeModel: "gpt-4o-mini",
		embeddingModel:  "text-embedding-3-small",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	client := openai.NewClient(reqOpts...)
	return &OpenAI{
		client:          &client,
		generativeModel: cfg.generativeModel,
		embeddingModel:  cfg.embeddingModel,
		dimensions:      cfg.dimensions,
	}
}

func (o *OpenAI) Generate(ctx context.Context, turns []model.Turn, opts ...GenerateOption) (string, error) {
	cfg := NewGenerateConfig(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.generativeModel),
		Messages:    messages,
		Temperature: openai.Float(float64(cfg.Temperature)),
		MaxTokens:   openai.Int(int64(cfg.MaxTokens)),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion", goerr.V("model", o.generativeModel))
	}

	if len(resp.Choices) == 0 {
		return "", goerr.Wrap(model.ErrEmptyResponse, "no choices in chat completion", goerr.V("model", o.generativeModel))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", goerr.Wrap(model.ErrEmptyResponse, "chat completion content is empty", goerr.V("model", o.generativeModel))
	}
	return text, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(o.embeddingModel),
	}
	if o.dimensions > 0 {
		params.Dimensions = openai.Int(o.dimensions)
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding", goerr.V("model", o.embeddingModel))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "embedding response is empty", goerr.V("model", o.embeddingModel))
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}
