package telegram_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/controller/telegram"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/usecase/conversation"
)

type mockEventHandler struct {
	mu     sync.Mutex
	events []*model.Event
	err    error
}

func (m *mockEventHandler) Handle(ctx context.Context, ev *model.Event) (*conversation.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if m.err != nil {
		return nil, m.err
	}
	return &conversation.Outcome{Detail: "Command processed"}, nil
}

func (m *mockEventHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

const validUpdate = `{"update_id": 1, "message": {"message_id": 2, "date": 3, "chat": {"id": 4}, "from": {"id": 5}, "text": "/start"}}`

func post(t *testing.T, h http.Handler, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]string
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestWebhook(t *testing.T) {
	events := &mockEventHandler{}
	h := telegram.NewHandler(events)

	w, resp := post(t, h, validUpdate, nil)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["status"], "ok")
	gt.Equal(t, resp["detail"], "Command processed")
	gt.Equal(t, events.count(), 1)
	gt.Equal(t, events.events[0].Text, "/start")
}

func TestWebhookIgnoredUpdate(t *testing.T) {
	events := &mockEventHandler{}
	h := telegram.NewHandler(events)

	w, resp := post(t, h, `{"update_id": 1, "edited_message": {"message_id": 2}}`, nil)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["detail"], "Update ignored")
	gt.Equal(t, events.count(), 0)
}

func TestWebhookInvalidUpdate(t *testing.T) {
	events := &mockEventHandler{}
	h := telegram.NewHandler(events)

	w, resp := post(t, h, `{"update_id": 1, "message": {"message_id": 2}}`, nil)
	gt.Equal(t, w.Code, http.StatusBadRequest)
	gt.Equal(t, resp["status"], "error")
	gt.Equal(t, events.count(), 0)
}

func TestWebhookHandlerError(t *testing.T) {
	events := &mockEventHandler{err: errors.New("store down")}
	h := telegram.NewHandler(events)

	w, resp := post(t, h, validUpdate, nil)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["status"], "error")
}

func TestWebhookSecretToken(t *testing.T) {
	events := &mockEventHandler{}
	h := telegram.NewHandler(events, telegram.WithSecretToken("s3cret"))

	w, _ := post(t, h, validUpdate, nil)
	gt.Equal(t, w.Code, http.StatusUnauthorized)

	w, _ = post(t, h, validUpdate, map[string]string{"X-Telegram-Bot-Api-Secret-Token": "wrong"})
	gt.Equal(t, w.Code, http.StatusUnauthorized)
	gt.Equal(t, events.count(), 0)

	w, _ = post(t, h, validUpdate, map[string]string{"X-Telegram-Bot-Api-Secret-Token": "s3cret"})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, events.count(), 1)
}

func TestHello(t *testing.T) {
	h := telegram.NewHandler(&mockEventHandler{})

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.S(t, w.Body.String()).Contains(`"status":"ok"`)

	req = httptest.NewRequest(http.MethodGet, "/api/webhook", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	gt.Equal(t, w.Code, http.StatusMethodNotAllowed)
}
