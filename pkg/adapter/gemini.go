package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"google.golang.org/genai"
)

type Gemini struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dimensions      int32
}

type GeminiOption func(*Gemini)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *Gemini) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *Gemini) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimensions sets the output dimensionality of embeddings. Zero keeps the model default.
func WithEmbeddingDimensions(n int) GeminiOption {
	return func(g *Gemini) {
		g.dimensions = int32(n)
	}
}

// NewGemini creates a Gemini client on Vertex AI
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*Gemini, error) {
	return newGemini(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

// NewGeminiWithAPIKey creates a Gemini client on the Gemini Developer API
func NewGeminiWithAPIKey(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, opts ...GeminiOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &Gemini{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Gemini) Generate(ctx context.Context, turns []model.Turn, opts ...GenerateOption) (string, error) {
	cfg := NewGenerateConfig(opts...)
	system, conversation := splitSystem(turns)

	contents := make([]*genai.Content, 0, len(conversation))
	for _, t := range conversation {
		role := genai.Role(genai.RoleUser)
		if t.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		MaxOutputTokens: int32(cfg.MaxTokens),
	}
	if len(system) > 0 {
		parts := make([]*genai.Part, 0, len(system))
		for _, s := range system {
			parts = append(parts, genai.NewPartFromText(s))
		}
		config.SystemInstruction = genai.NewContentFromParts(parts, "")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", goerr.Wrap(model.ErrEmptyResponse, "gemini returned no text", goerr.V("model", g.generativeModel))
	}
	return text, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{}
	if g.dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(g.dimensions)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "gemini returned no embedding", goerr.V("model", g.embeddingModel))
	}
	return resp.Embeddings[0].Values, nil
}
