package conversation

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/adapter"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/policy"
	"github.com/m-mizutani/murmur/pkg/repository"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

const (
	DefaultPersona      = "You are a helpful AI assistant participating in a Telegram group chat."
	DefaultGreeting     = "Hello! I'm your friendly AI agent. Use /help to see what I can do."
	DefaultMemoryLimit  = 3
	DefaultMemoryMaxAge = 7
)

//go:embed prompt/help.md
var defaultHelpText string

// Authorizer decides whether a command may run
type Authorizer interface {
	Evaluate(ctx context.Context, input policy.Input) (*policy.Decision, error)
}

// Timeouts bounds each external call of a turn. Zero means no extra deadline.
type Timeouts struct {
	Embed    time.Duration
	Generate time.Duration
	Deliver  time.Duration
	Store    time.Duration
}

// UseCase is the conversation orchestrator. It is safe for concurrent use once constructed.
type UseCase struct {
	repo      repository.Repository
	generator adapter.Generator
	embedder  adapter.Embedder
	messenger adapter.Messenger
	authz     Authorizer
	archive   adapter.Archive

	self           model.Identity
	defaultPersona string
	greeting       string
	helpText       string
	memoryLimit    int
	memoryMaxAge   int
	timeouts       Timeouts
	now            func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithIdentity injects the agent's own identity. Without it the agent never responds to free text.
func WithIdentity(self model.Identity) Option {
	return func(uc *UseCase) {
		uc.self = self
	}
}

func WithDefaultPersona(persona string) Option {
	return func(uc *UseCase) {
		if persona != "" {
			uc.defaultPersona = persona
		}
	}
}

func WithGreeting(text string) Option {
	return func(uc *UseCase) {
		if text != "" {
			uc.greeting = text
		}
	}
}

func WithHelpText(text string) Option {
	return func(uc *UseCase) {
		if text != "" {
			uc.helpText = text
		}
	}
}

// WithMemoryLimit sets how many memories are retrieved per turn
func WithMemoryLimit(limit int) Option {
	return func(uc *UseCase) {
		uc.memoryLimit = limit
	}
}

// WithMemoryMaxAgeDays sets the retrieval window. days <= 0 disables it.
func WithMemoryMaxAgeDays(days int) Option {
	return func(uc *UseCase) {
		uc.memoryMaxAge = days
	}
}

// WithArchive enables transcript archiving
func WithArchive(archive adapter.Archive) Option {
	return func(uc *UseCase) {
		uc.archive = archive
	}
}

func WithTimeouts(t Timeouts) Option {
	return func(uc *UseCase) {
		uc.timeouts = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new conversation UseCase instance
func New(
	repo repository.Repository,
	generator adapter.Generator,
	embedder adapter.Embedder,
	messenger adapter.Messenger,
	authz Authorizer,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:           repo,
		generator:      generator,
		embedder:       embedder,
		messenger:      messenger,
		authz:          authz,
		defaultPersona: DefaultPersona,
		greeting:       DefaultGreeting,
		helpText:       strings.TrimSpace(defaultHelpText),
		memoryLimit:    DefaultMemoryLimit,
		memoryMaxAge:   DefaultMemoryMaxAge,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Outcome describes what one Handle call did
type Outcome struct {
	Classification model.Classification
	Command        string
	Reply          string
	ReplyID        model.MessageID
	Delivered      bool
	Detail         string
}

// Handle processes one inbound event. Business refusals and upstream failures during a turn are
// reported through the chat and logs; an error is returned only when the group record cannot be loaded.
func (u *UseCase) Handle(ctx context.Context, ev *model.Event) (*Outcome, error) {
	ctx, logger := logging.WithAttrs(ctx,
		"request_id", uuid.NewString(),
		"chat_id", ev.ChatID,
		"message_id", ev.MessageID,
	)

	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	group, err := u.repo.GetOrCreateGroup(storeCtx, ev.ChatID)
	cancel()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get or create group", goerr.V("chat_id", ev.ChatID))
	}

	if !ev.HasText() {
		logger.Debug("non-text message ignored")
		return &Outcome{Classification: model.ClassIgnored, Detail: "Non-text message ignored"}, nil
	}

	class := Classify(ev.Text, u.self, ev.ReplyToUserID)
	switch class {
	case model.ClassCommand:
		return u.dispatch(ctx, ev, group), nil

	case model.ClassTriggered:
		if !group.IsActive {
			logger.Info("group is inactive, triggered message ignored")
			return &Outcome{Classification: class, Detail: "Group inactive"}, nil
		}
		return u.converse(ctx, ev, group), nil

	default:
		if !u.self.Resolved() {
			logger.Warn("agent identity is unresolved, free text ignored")
		} else {
			logger.Debug("message ignored (no trigger)")
		}
		return &Outcome{Classification: model.ClassIgnored, Detail: "Message ignored (no trigger)"}, nil
	}
}

func (u *UseCase) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// deliver sends text and logs failure. It returns the delivered message id or 0.
func (u *UseCase) deliver(ctx context.Context, chatID model.ChatID, text string) (model.MessageID, bool) {
	ctx, cancel := u.withTimeout(ctx, u.timeouts.Deliver)
	defer cancel()

	id, err := u.messenger.Deliver(ctx, chatID, text)
	if err != nil {
		logging.From(ctx).Error("failed to deliver message", "error", err)
		return 0, false
	}
	return id, true
}
