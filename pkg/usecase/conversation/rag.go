package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

const (
	contextHeader    = "Relevant past messages (most relevant first):\n---"
	contextFooter    = "---\nRespond to the current user message:"
	apologyMessage   = "Sorry, error generating response."
	memoryTimeFormat = "2006-01-02 15:04"
	memoryTextLimit  = 150
)

// converse runs one retrieval-augmented turn. Only generation failure is reported to the chat.
func (u *UseCase) converse(ctx context.Context, ev *model.Event, group *model.Group) *Outcome {
	logger := logging.From(ctx)
	outcome := &Outcome{Classification: model.ClassTriggered}

	persona := u.resolvePersona(group)

	var memories []*model.MemoryEntry
	embedding, err := u.embed(ctx, ev.Text)
	if err != nil {
		logger.Warn("failed to embed inbound message, skipping memory", "error", err)
	} else {
		u.memorizeInbound(ctx, ev, embedding)
		memories = u.retrieve(ctx, ev, embedding)
	}

	turns := BuildTurns(persona, memories, ev.Text, u.self.UserID)

	reply, err := u.generate(ctx, turns)
	if err != nil {
		logger.Error("failed to generate response", "error", err)
		outcome.Reply = apologyMessage
		outcome.Detail = "Generation failed"
		outcome.ReplyID, outcome.Delivered = u.deliver(ctx, ev.ChatID, apologyMessage)
		return outcome
	}

	outcome.Reply = reply
	outcome.ReplyID, outcome.Delivered = u.deliver(ctx, ev.ChatID, reply)
	if !outcome.Delivered {
		outcome.Detail = "Delivery failed"
		return outcome
	}

	u.memorizeReply(ctx, ev.ChatID, outcome.ReplyID, reply)
	u.archiveTranscript(ctx, ev, outcome.ReplyID, turns, reply)

	outcome.Detail = "Response delivered"
	return outcome
}

func (u *UseCase) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := u.withTimeout(ctx, u.timeouts.Embed)
	defer cancel()

	vector, err := u.embedder.Embed(ctx, strings.ReplaceAll(text, "\n", " "))
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "embedder returned empty vector")
	}
	return vector, nil
}

func (u *UseCase) generate(ctx context.Context, turns []model.Turn) (string, error) {
	ctx, cancel := u.withTimeout(ctx, u.timeouts.Generate)
	defer cancel()

	reply, err := u.generator.Generate(ctx, turns)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", goerr.Wrap(model.ErrEmptyResponse, "generator returned empty reply")
	}
	return reply, nil
}

// retrieve searches memories near embedding, excluding the inbound message itself. Failures yield no memories.
func (u *UseCase) retrieve(ctx context.Context, ev *model.Event, embedding []float32) []*model.MemoryEntry {
	if u.memoryLimit <= 0 {
		return nil
	}

	ctx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	found, err := u.repo.SearchMemory(ctx, &model.SearchMemoryInput{
		ChatID:     ev.ChatID,
		Embedding:  embedding,
		Limit:      u.memoryLimit + 1,
		MaxAgeDays: u.memoryMaxAge,
		Now:        u.now(),
	})
	if err != nil {
		logging.From(ctx).Warn("failed to search memory", "error", err)
		return nil
	}

	memories := make([]*model.MemoryEntry, 0, len(found))
	for _, m := range found {
		if m.MessageID == ev.MessageID {
			continue
		}
		memories = append(memories, m)
	}
	if len(memories) > u.memoryLimit {
		memories = memories[:u.memoryLimit]
	}

	logging.From(ctx).Info("found relevant memories",
		"count", len(memories),
		"limit", u.memoryLimit,
		"max_age_days", u.memoryMaxAge)
	return memories
}

// BuildTurns assembles the generation request. Context turns appear only when memories is not empty.
func BuildTurns(persona string, memories []*model.MemoryEntry, text string, self model.UserID) []model.Turn {
	turns := []model.Turn{model.SystemTurn(persona)}

	if len(memories) > 0 {
		turns = append(turns, model.SystemTurn(contextHeader))
		for _, m := range memories {
			turns = append(turns, model.SystemTurn(FormatMemory(m, self)))
		}
		turns = append(turns, model.SystemTurn(contextFooter))
	}

	return append(turns, model.UserTurn(text))
}

// FormatMemory renders one memory as a context line
func FormatMemory(m *model.MemoryEntry, self model.UserID) string {
	speaker := fmt.Sprintf("User %d", m.UserID)
	if self != 0 && m.UserID == self {
		speaker = "You (the bot)"
	}
	return fmt.Sprintf("%s previously said at %s: %s",
		speaker,
		m.Timestamp.UTC().Format(memoryTimeFormat),
		truncate(m.Text, memoryTextLimit))
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
