package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"milenio/internal/metrics"
)

// MaxCallbackData is the Bot API limit for callback_data, in bytes.
const MaxCallbackData = 64

// ErrNotConfigured is returned when no bot token is set.
var ErrNotConfigured = errors.New("telegram bot token not configured")

// Config holds Bot API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Bot API client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "telegram"),
		metrics: metrics,
	}
}

// Configured reports whether a bot token is available.
func (c *Client) Configured() bool {
	return c.token != ""
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage sends a text message, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	payload := map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	}
	if msg.ParseMode != "" {
		payload["parse_mode"] = msg.ParseMode
	}
	if len(msg.Keyboard) > 0 {
		payload["reply_markup"] = map[string]any{"inline_keyboard": msg.Keyboard}
	}
	kind := "text"
	if len(msg.Keyboard) > 0 {
		kind = "keyboard"
	}
	if err := c.call(ctx, "sendMessage", kind, payload); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendText is a shorthand for a plain SendMessage.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, OutgoingMessage{ChatID: chatID, Text: text})
}

// AnswerCallbackQuery stops the loading state of a pressed button.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	if err := c.call(ctx, "answerCallbackQuery", "callback_answer", payload); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, kind string, payload any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.observe(kind, "error")
		return fmt.Errorf("telegram request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		c.observe(kind, "error")
		return fmt.Errorf("read response: %w", err)
	}
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.observe(kind, "error")
		return fmt.Errorf("decode %s response (status=%d): %w", method, res.StatusCode, err)
	}
	if !resp.OK {
		c.observe(kind, "rejected")
		return fmt.Errorf("telegram %s failed: code=%d %s", method, resp.ErrorCode, resp.Description)
	}
	c.observe(kind, "ok")
	return nil
}

func (c *Client) observe(kind, status string) {
	if c.metrics != nil {
		c.metrics.ChatOutgoing.WithLabelValues(kind, status).Inc()
	}
}
