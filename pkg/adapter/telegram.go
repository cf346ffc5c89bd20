package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"golang.org/x/time/rate"
)

const (
	DefaultTelegramAPIURL      = "https://api.telegram.org"
	DefaultTelegramCallTimeout = 60 * time.Second
)

// Telegram is a minimal Bot API client covering getMe, getUpdates and sendMessage
type Telegram struct {
	http        *http.Client
	baseURL     string
	token       string
	limiter     *rate.Limiter
	callTimeout time.Duration
}

type TelegramOption func(*Telegram)

func WithTelegramAPIURL(url string) TelegramOption {
	return func(t *Telegram) {
		if url != "" {
			t.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithTelegramHTTPClient(client *http.Client) TelegramOption {
	return func(t *Telegram) {
		t.http = client
	}
}

// WithTelegramCallTimeout bounds calls whose context has no deadline. Long polls carry their own.
func WithTelegramCallTimeout(d time.Duration) TelegramOption {
	return func(t *Telegram) {
		t.callTimeout = d
	}
}

// WithTelegramRateLimit limits outbound sendMessage calls. Bot API allows about 30 messages per second.
func WithTelegramRateLimit(limit rate.Limit, burst int) TelegramOption {
	return func(t *Telegram) {
		t.limiter = rate.NewLimiter(limit, burst)
	}
}

func NewTelegram(token string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		http:        &http.Client{},
		baseURL:     DefaultTelegramAPIURL,
		token:       token,
		limiter:     rate.NewLimiter(rate.Limit(30), 5),
		callTimeout: DefaultTelegramCallTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

type telegramUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type telegramSendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSentMessage struct {
	MessageID int64 `json:"message_id"`
}

type telegramUpdateID struct {
	UpdateID int64 `json:"update_id"`
}

func (t *Telegram) call(ctx context.Context, method string, httpMethod string, body any) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)

	if _, ok := ctx.Deadline(); !ok && t.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal telegram request", goerr.V("method", method))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create telegram request", goerr.V("method", method))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		// url contains the bot token, so it is not attached to the error
		return nil, goerr.Wrap(err, "failed to call telegram API", goerr.V("method", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read telegram response", goerr.V("method", method))
	}

	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode telegram response",
			goerr.V("method", method),
			goerr.V("status", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return nil, goerr.New("telegram API returned error",
			goerr.V("method", method),
			goerr.V("status", resp.StatusCode),
			goerr.V("description", out.Description))
	}

	return out.Result, nil
}

// Self resolves the bot's own identity via getMe. Username is returned without "@".
func (t *Telegram) Self(ctx context.Context) (*model.Identity, error) {
	raw, err := t.call(ctx, "getMe", http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	var user telegramUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, goerr.Wrap(err, "failed to decode getMe result")
	}
	if user.ID == 0 || user.Username == "" {
		return nil, goerr.New("getMe returned incomplete identity", goerr.V("id", user.ID))
	}

	return &model.Identity{
		Username: user.Username,
		UserID:   model.UserID(user.ID),
	}, nil
}

// Deliver sends text to the chat and returns the platform-assigned message id
func (t *Telegram) Deliver(ctx context.Context, chatID model.ChatID, text string) (model.MessageID, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, goerr.Wrap(err, "rate limiter wait aborted", goerr.V("chat_id", chatID))
	}

	raw, err := t.call(ctx, "sendMessage", http.MethodPost, telegramSendMessageRequest{
		ChatID: int64(chatID),
		Text:   text,
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to send message", goerr.V("chat_id", chatID))
	}

	var sent telegramSentMessage
	if err := json.Unmarshal(raw, &sent); err != nil {
		return 0, goerr.Wrap(err, "failed to decode sendMessage result", goerr.V("chat_id", chatID))
	}
	if sent.MessageID == 0 {
		return 0, goerr.Wrap(model.ErrNotDelivered, "sendMessage returned no message id", goerr.V("chat_id", chatID))
	}

	return model.MessageID(sent.MessageID), nil
}

// GetUpdates long-polls for updates starting at offset. Updates are returned undecoded
// together with the next offset to acknowledge them.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]json.RawMessage, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	method := fmt.Sprintf("getUpdates?timeout=%d", secs)
	if offset > 0 {
		method += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+5*time.Second)
	defer cancel()

	raw, err := t.call(reqCtx, method, http.MethodGet, nil)
	if err != nil {
		return nil, offset, err
	}

	var updates []json.RawMessage
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, offset, goerr.Wrap(err, "failed to decode getUpdates result")
	}

	next := offset
	for _, u := range updates {
		var id telegramUpdateID
		if err := json.Unmarshal(u, &id); err != nil {
			continue
		}
		if id.UpdateID >= next {
			next = id.UpdateID + 1
		}
	}

	return updates, next, nil
}
