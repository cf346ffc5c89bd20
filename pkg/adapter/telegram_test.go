package adapter_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/adapter"
	"github.com/m-mizutani/murmur/pkg/model"
)

func TestTelegramSelf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/botTOKEN/getMe")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"username":"murmur_bot"}}`))
	}))
	defer srv.Close()

	client := adapter.NewTelegram("TOKEN", adapter.WithTelegramAPIURL(srv.URL))
	self, err := client.Self(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, self.Username, "murmur_bot")
	gt.Equal(t, self.UserID, model.UserID(42))
	gt.Equal(t, self.Mention(), "@murmur_bot")
}

func TestTelegramDeliver(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/botTOKEN/sendMessage")
		gt.Equal(t, r.Method, http.MethodPost)
		body, err := io.ReadAll(r.Body)
		gt.NoError(t, err)
		gt.NoError(t, json.Unmarshal(body, &received))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":777,"chat":{"id":100}}}`))
	}))
	defer srv.Close()

	client := adapter.NewTelegram("TOKEN", adapter.WithTelegramAPIURL(srv.URL))
	id, err := client.Deliver(context.Background(), model.ChatID(100), "hello")
	gt.NoError(t, err)
	gt.Equal(t, id, model.MessageID(777))
	gt.Equal(t, received["chat_id"], any(float64(100)))
	gt.Equal(t, received["text"], any("hello"))
}

func TestTelegramDeliverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	client := adapter.NewTelegram("TOKEN", adapter.WithTelegramAPIURL(srv.URL))
	_, err := client.Deliver(context.Background(), model.ChatID(1), "hello")
	gt.Error(t, err)
}

func TestTelegramGetUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/botTOKEN/getUpdates")
		gt.Equal(t, r.URL.Query().Get("offset"), "10")
		gt.Equal(t, r.URL.Query().Get("timeout"), "1")
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":10,"message":{}},{"update_id":12}]}`))
	}))
	defer srv.Close()

	client := adapter.NewTelegram("TOKEN", adapter.WithTelegramAPIURL(srv.URL))
	updates, next, err := client.GetUpdates(context.Background(), 10, time.Second)
	gt.NoError(t, err)
	gt.A(t, updates).Length(2)
	gt.Equal(t, next, int64(13))
}

func TestTelegramLongPollOutlivesCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		switch r.URL.Path {
		case "/botTOKEN/getUpdates":
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":5}]}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"murmur_bot"}}`))
		}
	}))
	defer srv.Close()

	client := adapter.NewTelegram("TOKEN",
		adapter.WithTelegramAPIURL(srv.URL),
		adapter.WithTelegramCallTimeout(100*time.Millisecond),
	)

	// getUpdates is bounded by the poll timeout, not the call timeout
	updates, next, err := client.GetUpdates(context.Background(), 0, time.Second)
	gt.NoError(t, err)
	gt.A(t, updates).Length(1)
	gt.Equal(t, next, int64(6))

	_, err = client.Self(context.Background())
	gt.Error(t, err)
}
