package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

// memorizeInbound persists the user's message with the embedding already computed for retrieval
func (u *UseCase) memorizeInbound(ctx context.Context, ev *model.Event, embedding []float32) {
	logger := logging.From(ctx)
	if ev.SenderID == 0 || ev.Timestamp.IsZero() {
		logger.Warn("missing data for memory storage", "sender", ev.SenderID, "timestamp", ev.Timestamp)
		return
	}

	u.appendMemory(ctx, &model.MemoryEntry{
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		UserID:    ev.SenderID,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
		Embedding: embedding,
	})
}

// memorizeReply persists the agent's delivered reply so it can be retrieved in later turns
func (u *UseCase) memorizeReply(ctx context.Context, chatID model.ChatID, replyID model.MessageID, reply string) {
	logger := logging.From(ctx)
	if u.self.UserID == 0 {
		logger.Warn("could not store reply: agent user id is unknown", "reply_id", replyID)
		return
	}

	embedding, err := u.embed(ctx, reply)
	if err != nil {
		logger.Warn("failed to embed reply", "error", err, "reply_id", replyID)
		return
	}

	u.appendMemory(ctx, &model.MemoryEntry{
		ChatID:    chatID,
		MessageID: replyID,
		UserID:    u.self.UserID,
		Text:      reply,
		Timestamp: u.now(),
		Embedding: embedding,
	})
}

func (u *UseCase) appendMemory(ctx context.Context, entry *model.MemoryEntry) {
	logger := logging.From(ctx)

	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	inserted, err := u.repo.AppendMemory(storeCtx, entry)
	if err != nil {
		logger.Error("failed to store memory", "error", err, "memory_message_id", entry.MessageID)
		return
	}
	if !inserted {
		logger.Debug("memory already stored", "memory_message_id", entry.MessageID)
		return
	}
	logger.Debug("stored memory", "memory_message_id", entry.MessageID, "user_id", entry.UserID)
}

// Transcript is the archived record of one delivered turn
type Transcript struct {
	ChatID    model.ChatID    `json:"chat_id"`
	MessageID model.MessageID `json:"message_id"`
	ReplyID   model.MessageID `json:"reply_id"`
	Turns     []model.Turn    `json:"turns"`
	Reply     string          `json:"reply"`
	CreatedAt time.Time       `json:"created_at"`
}

// TranscriptKey is the archive key of a delivered reply
func TranscriptKey(chatID model.ChatID, replyID model.MessageID) string {
	return fmt.Sprintf("transcripts/%d/%d.json", chatID, replyID)
}

func (u *UseCase) archiveTranscript(ctx context.Context, ev *model.Event, replyID model.MessageID, turns []model.Turn, reply string) {
	if u.archive == nil {
		return
	}

	if err := u.writeTranscript(ctx, &Transcript{
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		ReplyID:   replyID,
		Turns:     turns,
		Reply:     reply,
		CreatedAt: u.now(),
	}); err != nil {
		logging.From(ctx).Warn("failed to archive transcript", "error", err)
	}
}

func (u *UseCase) writeTranscript(ctx context.Context, t *Transcript) error {
	ctx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	key := TranscriptKey(t.ChatID, t.ReplyID)
	w, err := u.archive.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive writer", goerr.V("key", key))
	}

	if err := json.NewEncoder(w).Encode(t); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to encode transcript", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close archive writer", goerr.V("key", key))
	}
	return nil
}
