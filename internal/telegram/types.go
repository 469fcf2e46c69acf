package telegram

// Update is an inbound Bot API update. Only the fields the bot reacts to are decoded.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is a chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// CallbackQuery is emitted when an inline keyboard button is pressed.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ChatID returns the chat the callback belongs to, falling back to the sender.
func (q *CallbackQuery) ChatID() int64 {
	if q.Message != nil && q.Message.Chat.ID != 0 {
		return q.Message.Chat.ID
	}
	return q.From.ID
}

// InlineButton is one inline keyboard button.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// OutgoingMessage is a sendMessage call.
type OutgoingMessage struct {
	ChatID    int64
	Text      string
	ParseMode string
	// Keyboard rows rendered as an inline keyboard.
	Keyboard [][]InlineButton
}
