package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"milenio/internal/telegram"
)

// UpdateHandler consumes Telegram updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update telegram.Update)
}

// TelegramWebhook receives Bot API updates. It always acknowledges with 200 so the platform never
// redelivers an update whose side effects already ran.
type TelegramWebhook struct {
	secret string
	engine UpdateHandler
	logger *slog.Logger
}

// NewTelegramWebhook creates the Telegram webhook handler. An empty secret rejects every update.
func NewTelegramWebhook(secret string, engine UpdateHandler, logger *slog.Logger) *TelegramWebhook {
	return &TelegramWebhook{
		secret: strings.TrimSpace(secret),
		engine: engine,
		logger: logger.With("component", "telegram_webhook"),
	}
}

// ServeHTTP satisfies http.Handler.
func (h *TelegramWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	if r.Method != http.MethodPost {
		return
	}
	if !h.authorized(r) {
		h.logger.Warn("telegram update without valid secret ignored", "remote", r.RemoteAddr)
		return
	}

	var update telegram.Update
	if err := decodeJSON(r, &update); err != nil {
		h.logger.Warn("undecodable telegram update", "error", err)
		return
	}
	h.engine.HandleUpdate(r.Context(), update)
}

func (h *TelegramWebhook) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	provided := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}
