package telegram

import (
	"context"
	"errors"

	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/usecase/conversation"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

// EventHandler processes one orchestrator event
type EventHandler interface {
	Handle(ctx context.Context, ev *model.Event) (*conversation.Outcome, error)
}

// processUpdate decodes one raw update and hands it to the orchestrator. It returns a short status detail.
func processUpdate(ctx context.Context, h EventHandler, data []byte) (string, error) {
	update, err := DecodeUpdate(data)
	if err != nil {
		return "", err
	}

	ctx, logger := logging.WithAttrs(ctx, "update_id", update.ID, "kind", update.Kind.String())

	ev, err := update.Event()
	if errors.Is(err, ErrIgnoredUpdate) {
		logger.Info("update ignored")
		return "Update ignored", nil
	}
	if err != nil {
		return "", err
	}

	outcome, err := h.Handle(ctx, ev)
	if err != nil {
		return "", err
	}
	return outcome.Detail, nil
}
