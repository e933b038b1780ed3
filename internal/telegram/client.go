package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/Albermonte/validator-election-bot/internal/notify"
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	// RequestTimeout bounds a single call on top of any long-poll wait.
	RequestTimeout = 10 * time.Second
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Private reports whether the chat is a one-to-one conversation with the bot.
func (c Chat) Private() bool {
	return c.Type == "private"
}

type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from,omitempty"`
	Chat           Chat     `json:"chat"`
	Text           string   `json:"text,omitempty"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type ChatMember struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// Admin reports whether the member can manage the chat.
func (m ChatMember) Admin() bool {
	return m.Status == "creator" || m.Status == "administrator"
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Client is a minimal Bot API client.
type Client struct {
	http *resty.Client
}

var _ notify.Transport = (*Client)(nil)

// NewClient builds a client for token. timeout must exceed the long-poll
// timeout used with GetUpdates.
func NewClient(apiURL, token string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(apiURL, "/") + "/bot" + token).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func post[T any](ctx context.Context, c *Client, method string, body interface{}) (T, error) {
	var out apiResponse[T]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/" + method)
	if err != nil {
		var zero T
		return zero, errors.Wrap(err, method)
	}
	if resp.IsError() || !out.OK {
		var zero T
		return zero, errors.Errorf("%s: status %d: %s", method, resp.StatusCode(), out.Description)
	}
	return out.Result, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, mode notify.ParseMode) error {
	_, err := post[Message](ctx, c, "sendMessage", sendMessageRequest(chatID, text, mode, false))
	return err
}

// AskForReply sends text with a force_reply markup so the user's answer
// comes back as a reply to it.
func (c *Client) AskForReply(ctx context.Context, chatID int64, text string) error {
	_, err := post[Message](ctx, c, "sendMessage", sendMessageRequest(chatID, text, notify.ParseModeNone, true))
	return err
}

func sendMessageRequest(chatID int64, text string, mode notify.ParseMode, forceReply bool) map[string]interface{} {
	body := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if mode != notify.ParseModeNone {
		body["parse_mode"] = string(mode)
	}
	if forceReply {
		body["reply_markup"] = map[string]bool{"force_reply": true}
	}
	return body
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	return post[[]Update](ctx, c, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "chat_member"},
	})
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error) {
	return post[ChatMember](ctx, c, "getChatMember", map[string]interface{}{
		"chat_id": chatID,
		"user_id": userID,
	})
}
