package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendMessageWithKeyboard(t *testing.T) {
	var gotPath string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "123:abc"}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	err := client.SendMessage(context.Background(), OutgoingMessage{
		ChatID:   42,
		Text:     "Escolha um pacote",
		Keyboard: [][]InlineButton{{{Text: "50 créditos", CallbackData: "p50|0123456789abcdef"}}},
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if got["chat_id"] != float64(42) {
		t.Fatalf("unexpected chat id %v", got["chat_id"])
	}
	markup := got["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	button := rows[0].([]any)[0].(map[string]any)
	if button["callback_data"] != "p50|0123456789abcdef" {
		t.Fatalf("unexpected button %v", button)
	}
}

func TestCallReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: query is too old"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "t"}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	err := client.AnswerCallbackQuery(context.Background(), "cb-1", "")
	if err == nil || !strings.Contains(err.Error(), "query is too old") {
		t.Fatalf("expected api description in error, got %v", err)
	}
}

func TestCallbackChatIDFallsBackToSender(t *testing.T) {
	q := CallbackQuery{From: User{ID: 7}}
	if q.ChatID() != 7 {
		t.Fatalf("expected sender id, got %d", q.ChatID())
	}
	q.Message = &Message{Chat: Chat{ID: 9}}
	if q.ChatID() != 9 {
		t.Fatalf("expected chat id, got %d", q.ChatID())
	}
}
