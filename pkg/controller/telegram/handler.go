package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateSize     = 1 << 20
)

// Handler serves the webhook endpoint and a health check
type Handler struct {
	events EventHandler
	secret string
	mux    *http.ServeMux
}

type HandlerOption func(*Handler)

// WithSecretToken requires the secret token Telegram sends when configured via setWebhook
func WithSecretToken(secret string) HandlerOption {
	return func(h *Handler) {
		h.secret = secret
	}
}

func NewHandler(events EventHandler, opts ...HandlerOption) *Handler {
	h := &Handler{
		events: events,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /api/webhook", h.webhook)
	h.mux.HandleFunc("GET /api/hello", h.hello)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type response struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Message: "Hello from murmur"})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.From(ctx)

	if h.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			logger.Warn("webhook secret token mismatch", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, response{Status: "error", Detail: "Unauthorized"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Detail: "Invalid body"})
		return
	}

	detail, err := processUpdate(ctx, h.events, body)
	if errors.Is(err, ErrInvalidUpdate) {
		logger.Warn("invalid update", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Detail: "Invalid update"})
		return
	}
	if err != nil {
		// acknowledged so that Telegram does not redeliver and trigger duplicate replies
		logger.Error("failed to process update", "error", err)
		writeJSON(w, http.StatusOK, response{Status: "error", Detail: "Processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, response{Status: "ok", Detail: detail})
}
