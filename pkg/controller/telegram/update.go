package telegram

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
)

var (
	ErrInvalidUpdate = goerr.New("invalid telegram update")
	ErrIgnoredUpdate = goerr.New("update is not a processable message")
)

// Kind is the category of a Telegram update
type Kind int

const (
	KindOther Kind = iota
	KindMessage
	KindEditedMessage
	KindChannelPost
	KindEditedChannelPost
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEditedMessage:
		return "edited_message"
	case KindChannelPost:
		return "channel_post"
	case KindEditedChannelPost:
		return "edited_channel_post"
	default:
		return "other"
	}
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date"`
	Chat      *Chat    `json:"chat"`
	From      *User    `json:"from,omitempty"`
	Text      string   `json:"text,omitempty"`
	ReplyTo   *Message `json:"reply_to_message,omitempty"`
}

// Update is a validated Telegram update. Message is set only for KindMessage.
type Update struct {
	ID      int64
	Kind    Kind
	Message *Message
}

type rawUpdate struct {
	UpdateID          *int64          `json:"update_id"`
	Message           *Message        `json:"message"`
	EditedMessage     json.RawMessage `json:"edited_message"`
	ChannelPost       json.RawMessage `json:"channel_post"`
	EditedChannelPost json.RawMessage `json:"edited_channel_post"`
}

// DecodeUpdate parses and validates a Telegram update. Unknown fields are ignored,
// but a message missing its id, chat or date is rejected.
func DecodeUpdate(data []byte) (*Update, error) {
	var raw rawUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(ErrInvalidUpdate, "failed to decode update", goerr.V("error", err.Error()))
	}
	if raw.UpdateID == nil {
		return nil, goerr.Wrap(ErrInvalidUpdate, "update_id is missing")
	}

	update := &Update{ID: *raw.UpdateID}
	switch {
	case raw.Message != nil:
		if err := validateMessage(raw.Message); err != nil {
			return nil, goerr.Wrap(err, "invalid message", goerr.V("update_id", update.ID))
		}
		update.Kind = KindMessage
		update.Message = raw.Message
	case raw.EditedMessage != nil:
		update.Kind = KindEditedMessage
	case raw.ChannelPost != nil:
		update.Kind = KindChannelPost
	case raw.EditedChannelPost != nil:
		update.Kind = KindEditedChannelPost
	default:
		update.Kind = KindOther
	}

	return update, nil
}

func validateMessage(msg *Message) error {
	if msg.MessageID == 0 {
		return goerr.Wrap(ErrInvalidUpdate, "message_id is missing")
	}
	if msg.Chat == nil || msg.Chat.ID == 0 {
		return goerr.Wrap(ErrInvalidUpdate, "chat.id is missing", goerr.V("message_id", msg.MessageID))
	}
	if msg.Date == 0 {
		return goerr.Wrap(ErrInvalidUpdate, "date is missing", goerr.V("message_id", msg.MessageID))
	}
	return nil
}

// Event converts a message update into the orchestrator's event.
// Other kinds return ErrIgnoredUpdate.
func (x *Update) Event() (*model.Event, error) {
	if x.Kind != KindMessage || x.Message == nil {
		return nil, goerr.Wrap(ErrIgnoredUpdate, "update dropped", goerr.V("kind", x.Kind.String()))
	}

	msg := x.Message
	ev := &model.Event{
		ChatID:    model.ChatID(msg.Chat.ID),
		MessageID: model.MessageID(msg.MessageID),
		Text:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0).UTC(),
	}
	if msg.From != nil {
		ev.SenderID = model.UserID(msg.From.ID)
	}
	if msg.ReplyTo != nil && msg.ReplyTo.From != nil {
		author := model.UserID(msg.ReplyTo.From.ID)
		ev.ReplyToUserID = &author
	}

	return ev, nil
}
