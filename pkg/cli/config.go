package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/adapter"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/policy"
	"github.com/m-mizutani/murmur/pkg/repository"
	"github.com/m-mizutani/murmur/pkg/usecase/conversation"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	logLevel   string
	logFormat  string
	configFile string

	// Repository
	repository  string
	databaseURL string
	project     string
	database    string

	// LLM
	llmProvider         string
	generationModel     string
	embeddingProvider   string
	embeddingModel      string
	embeddingDimensions int64
	geminiProject       string
	geminiLocation      string
	geminiAPIKey        string
	openaiAPIKey        string
	openaiBaseURL       string
	anthropicAPIKey     string

	// Conversation
	defaultPersona  string
	memoryLimit     int64
	memoryMaxAge    int64
	policyDir       string
	archiveBucket   string
	embedTimeout    time.Duration
	generateTimeout time.Duration
	deliverTimeout  time.Duration
	storeTimeout    time.Duration

	// Telegram
	telegramToken  string
	telegramAPIURL string
}

// fileConfig is the optional YAML file holding long texts
type fileConfig struct {
	DefaultPersona string `yaml:"default_persona"`
	Greeting       string `yaml:"greeting"`
	HelpText       string `yaml:"help_text"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MURMUR_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("MURMUR_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML file with default_persona, greeting and help_text",
			Sources:     cli.EnvVars("MURMUR_CONFIG"),
			Destination: &cfg.configFile,
		},
	}
}

// repositoryFlags returns flags to select and connect the store
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository",
			Usage:       "Store backend (postgres, firestore, memory)",
			Value:       "postgres",
			Sources:     cli.EnvVars("MURMUR_REPOSITORY"),
			Destination: &cfg.repository,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Usage:       "PostgreSQL connection string (pgvector required)",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &cfg.databaseURL,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Generation backend (openai, gemini, claude)",
			Value:       "openai",
			Sources:     cli.EnvVars("MURMUR_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "generation-model",
			Usage:       "Generation model name. Provider default when empty",
			Sources:     cli.EnvVars("LLM_MODEL"),
			Destination: &cfg.generationModel,
		},
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Embedding backend (openai, gemini)",
			Value:       "openai",
			Sources:     cli.EnvVars("MURMUR_EMBEDDING_PROVIDER"),
			Destination: &cfg.embeddingProvider,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name. Provider default when empty",
			Sources:     cli.EnvVars("EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Usage:       "Embedding output dimensions. Model default when 0",
			Sources:     cli.EnvVars("MURMUR_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.embeddingDimensions,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI (or compatible) API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible endpoint, e.g. https://openrouter.ai/api/v1",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
	}
}

// conversationFlags returns flags that tune the orchestrator
func conversationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "default-persona",
			Usage:       "Persona used when a group has no custom personality",
			Sources:     cli.EnvVars("DEFAULT_PERSONA"),
			Destination: &cfg.defaultPersona,
		},
		&cli.IntFlag{
			Name:        "memory-limit",
			Usage:       "Number of memories retrieved per turn",
			Value:       conversation.DefaultMemoryLimit,
			Sources:     cli.EnvVars("MEMORY_RETRIEVAL_LIMIT"),
			Destination: &cfg.memoryLimit,
		},
		&cli.IntFlag{
			Name:        "memory-max-age-days",
			Usage:       "Only memories newer than this many days are retrieved. 0 disables the filter",
			Value:       conversation.DefaultMemoryMaxAge,
			Sources:     cli.EnvVars("MEMORY_RETRIEVAL_MAX_AGE_DAYS"),
			Destination: &cfg.memoryMaxAge,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego files replacing the built-in command authorization policy",
			Sources:     cli.EnvVars("MURMUR_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for generation transcripts. Disabled when empty",
			Sources:     cli.EnvVars("MURMUR_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of one embedding call",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("MURMUR_EMBED_TIMEOUT"),
			Destination: &cfg.embedTimeout,
		},
		&cli.DurationFlag{
			Name:        "generate-timeout",
			Usage:       "Timeout of one generation call",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("MURMUR_GENERATE_TIMEOUT"),
			Destination: &cfg.generateTimeout,
		},
		&cli.DurationFlag{
			Name:        "deliver-timeout",
			Usage:       "Timeout of one message delivery",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("MURMUR_DELIVER_TIMEOUT"),
			Destination: &cfg.deliverTimeout,
		},
		&cli.DurationFlag{
			Name:        "store-timeout",
			Usage:       "Timeout of one store operation",
			Value:       5 * time.Second,
			Sources:     cli.EnvVars("MURMUR_STORE_TIMEOUT"),
			Destination: &cfg.storeTimeout,
		},
	}
}

// telegramFlags returns flags for the Bot API client
func telegramFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "telegram-bot-token",
			Usage:       "Telegram bot token",
			Sources:     cli.EnvVars("TELEGRAM_BOT_TOKEN"),
			Destination: &cfg.telegramToken,
		},
		&cli.StringFlag{
			Name:        "telegram-api-url",
			Usage:       "Telegram Bot API base URL",
			Value:       adapter.DefaultTelegramAPIURL,
			Sources:     cli.EnvVars("TELEGRAM_API_URL"),
			Destination: &cfg.telegramAPIURL,
		},
	}
}

// setupLogger configures the default logger from --log-level and --log-format
func (cfg *config) setupLogger(w io.Writer) *slog.Logger {
	logger := logging.New(cfg.logLevel, w, logging.WithFormat(cfg.logFormat))
	logging.SetDefault(logger)
	return logger
}

func (cfg *config) loadFile() (*fileConfig, error) {
	if cfg.configFile == "" {
		return &fileConfig{}, nil
	}

	raw, err := os.ReadFile(cfg.configFile)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configFile))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configFile))
	}
	return &fc, nil
}

// newRepository creates the configured store. The returned closer must be called on exit.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	switch cfg.repository {
	case "postgres":
		if cfg.databaseURL == "" {
			return nil, nil, goerr.New("database-url is required for postgres repository")
		}
		repo, err := repository.NewPostgres(ctx, cfg.databaseURL)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, nil, goerr.Wrap(err, "failed to migrate schema")
		}
		return repo, repo.Close, nil

	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required for firestore repository")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required for firestore repository")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { _ = repo.Close() }, nil

	case "memory":
		return repository.NewMemory(), func() {}, nil

	default:
		return nil, nil, goerr.New("unknown repository", goerr.V("repository", cfg.repository))
	}
}

// newGemini creates a Gemini adapter from either an API key or Vertex AI settings
func (cfg *config) newGemini(ctx context.Context, opts ...adapter.GeminiOption) (*adapter.Gemini, error) {
	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

func (cfg *config) newOpenAI(opts ...adapter.OpenAIOption) (*adapter.OpenAI, error) {
	if cfg.openaiAPIKey == "" {
		return nil, goerr.New("openai-api-key is required")
	}
	if cfg.openaiBaseURL != "" {
		opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
	}
	return adapter.NewOpenAI(cfg.openaiAPIKey, opts...), nil
}

// newGenerator creates the Text Generation backend selected by --llm-provider
func (cfg *config) newGenerator(ctx context.Context) (adapter.Generator, error) {
	switch cfg.llmProvider {
	case "openai":
		var opts []adapter.OpenAIOption
		if cfg.generationModel != "" {
			opts = append(opts, adapter.WithOpenAIGenerativeModel(cfg.generationModel))
		}
		return cfg.newOpenAI(opts...)

	case "gemini":
		var opts []adapter.GeminiOption
		if cfg.generationModel != "" {
			opts = append(opts, adapter.WithGenerativeModel(cfg.generationModel))
		}
		return cfg.newGemini(ctx, opts...)

	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, cfg.generationModel), nil

	default:
		return nil, goerr.New("unknown llm provider", goerr.V("provider", cfg.llmProvider))
	}
}

// newEmbedder creates the embedding backend selected by --embedding-provider
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, error) {
	switch cfg.embeddingProvider {
	case "openai":
		var opts []adapter.OpenAIOption
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.embeddingModel))
		}
		if cfg.embeddingDimensions > 0 {
			opts = append(opts, adapter.WithOpenAIEmbeddingDimensions(int(cfg.embeddingDimensions)))
		}
		return cfg.newOpenAI(opts...)

	case "gemini":
		var opts []adapter.GeminiOption
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
		}
		if cfg.embeddingDimensions > 0 {
			opts = append(opts, adapter.WithEmbeddingDimensions(int(cfg.embeddingDimensions)))
		}
		return cfg.newGemini(ctx, opts...)

	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", cfg.embeddingProvider))
	}
}

// newArchive returns nil when no bucket is configured
func (cfg *config) newArchive(ctx context.Context) (adapter.Archive, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}
	storage, err := adapter.NewStorage(ctx, cfg.archiveBucket, "")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

func (cfg *config) newTelegram() (*adapter.Telegram, error) {
	if cfg.telegramToken == "" {
		return nil, goerr.New("telegram-bot-token is required")
	}
	return adapter.NewTelegram(cfg.telegramToken, adapter.WithTelegramAPIURL(cfg.telegramAPIURL)), nil
}

// resolveIdentity asks the messenger who the agent is. Failure leaves the identity
// unresolved and the agent answers commands only.
func resolveIdentity(ctx context.Context, messenger adapter.Messenger) model.Identity {
	self, err := messenger.Self(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to resolve agent identity, free text will be ignored", "error", err)
		return model.Identity{}
	}
	logging.From(ctx).Info("resolved agent identity", "username", self.Username, "user_id", self.UserID)
	return *self
}

// newUseCase wires the orchestrator with every configured port
func (cfg *config) newUseCase(ctx context.Context, repo repository.Repository, messenger adapter.Messenger, self model.Identity) (*conversation.UseCase, error) {
	fc, err := cfg.loadFile()
	if err != nil {
		return nil, err
	}

	generator, err := cfg.newGenerator(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	var policyOpts []policy.Option
	if cfg.policyDir != "" {
		policyOpts = append(policyOpts, policy.WithPolicyDir(cfg.policyDir))
	}
	authz, err := policy.New(ctx, policyOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create authorizer")
	}

	archive, err := cfg.newArchive(ctx)
	if err != nil {
		return nil, err
	}

	persona := fc.DefaultPersona
	if cfg.defaultPersona != "" {
		persona = cfg.defaultPersona
	}

	opts := []conversation.Option{
		conversation.WithIdentity(self),
		conversation.WithDefaultPersona(persona),
		conversation.WithGreeting(fc.Greeting),
		conversation.WithHelpText(fc.HelpText),
		conversation.WithMemoryLimit(int(cfg.memoryLimit)),
		conversation.WithMemoryMaxAgeDays(int(cfg.memoryMaxAge)),
		conversation.WithTimeouts(conversation.Timeouts{
			Embed:    cfg.embedTimeout,
			Generate: cfg.generateTimeout,
			Deliver:  cfg.deliverTimeout,
			Store:    cfg.storeTimeout,
		}),
	}
	if archive != nil {
		opts = append(opts, conversation.WithArchive(archive))
	}

	return conversation.New(repo, generator, embedder, messenger, authz, opts...), nil
}
