package telegram_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/controller/telegram"
	"github.com/m-mizutani/murmur/pkg/model"
)

func TestDecodeUpdateMessage(t *testing.T) {
	data := []byte(`{
		"update_id": 10,
		"message": {
			"message_id": 55,
			"date": 1700000000,
			"chat": {"id": -100, "type": "supergroup"},
			"from": {"id": 5, "username": "alice"},
			"text": "hello @bot",
			"reply_to_message": {
				"message_id": 54,
				"date": 1699999999,
				"chat": {"id": -100},
				"from": {"id": 999, "is_bot": true}
			},
			"entities": [{"type": "mention", "offset": 6, "length": 4}]
		}
	}`)

	update, err := telegram.DecodeUpdate(data)
	gt.NoError(t, err)
	gt.Equal(t, update.ID, int64(10))
	gt.Equal(t, update.Kind, telegram.KindMessage)

	ev, err := update.Event()
	gt.NoError(t, err)
	gt.Equal(t, ev.ChatID, model.ChatID(-100))
	gt.Equal(t, ev.MessageID, model.MessageID(55))
	gt.Equal(t, ev.SenderID, model.UserID(5))
	gt.Equal(t, ev.Text, "hello @bot")
	gt.True(t, ev.Timestamp.Equal(time.Unix(1700000000, 0)))
	gt.V(t, ev.ReplyToUserID).NotNil()
	gt.Equal(t, *ev.ReplyToUserID, model.UserID(999))
}

func TestDecodeUpdateNonText(t *testing.T) {
	update, err := telegram.DecodeUpdate([]byte(`{"update_id": 1, "message": {"message_id": 2, "date": 3, "chat": {"id": 4}, "photo": [{}]}}`))
	gt.NoError(t, err)

	ev, err := update.Event()
	gt.NoError(t, err)
	gt.False(t, ev.HasText())
	gt.Nil(t, ev.ReplyToUserID)
}

func TestDecodeUpdateIgnoredKinds(t *testing.T) {
	testCases := map[string]struct {
		data string
		kind telegram.Kind
	}{
		"edited message": {
			data: `{"update_id": 1, "edited_message": {"message_id": 2, "date": 3, "chat": {"id": 4}, "text": "x"}}`,
			kind: telegram.KindEditedMessage,
		},
		"channel post": {
			data: `{"update_id": 1, "channel_post": {"message_id": 2, "date": 3, "chat": {"id": 4}, "text": "x"}}`,
			kind: telegram.KindChannelPost,
		},
		"edited channel post": {
			data: `{"update_id": 1, "edited_channel_post": {"message_id": 2}}`,
			kind: telegram.KindEditedChannelPost,
		},
		"callback query": {
			data: `{"update_id": 1, "callback_query": {"id": "abc"}}`,
			kind: telegram.KindOther,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			update, err := telegram.DecodeUpdate([]byte(tc.data))
			gt.NoError(t, err)
			gt.Equal(t, update.Kind, tc.kind)

			_, err = update.Event()
			gt.True(t, errors.Is(err, telegram.ErrIgnoredUpdate))
		})
	}
}

func TestDecodeUpdateInvalid(t *testing.T) {
	testCases := map[string]string{
		"not json":           `{"update_id":`,
		"missing update_id":  `{"message": {"message_id": 2, "date": 3, "chat": {"id": 4}}}`,
		"missing chat":       `{"update_id": 1, "message": {"message_id": 2, "date": 3}}`,
		"missing chat id":    `{"update_id": 1, "message": {"message_id": 2, "date": 3, "chat": {}}}`,
		"missing message_id": `{"update_id": 1, "message": {"date": 3, "chat": {"id": 4}}}`,
		"missing date":       `{"update_id": 1, "message": {"message_id": 2, "chat": {"id": 4}}}`,
		"wrong type":         `{"update_id": "1"}`,
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := telegram.DecodeUpdate([]byte(data))
			gt.Error(t, err)
			gt.True(t, errors.Is(err, telegram.ErrInvalidUpdate))
		})
	}
}
